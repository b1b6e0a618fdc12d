package iudex

// PipelineFormatter interface for pretty output
type PipelineFormatter interface {
	PrintStageStart(stage Stage)
	PrintStageOutput(stage Stage, content any)
	PrintStageError(stage Stage, err error)
}
