package handler

type RunParams struct {
	RunID int64 `param:"run_id"`
}

type ListRunsParams struct {
	Group string `query:"group"`
}

type APIKeyParams struct {
	ID int64 `param:"id"`
}
