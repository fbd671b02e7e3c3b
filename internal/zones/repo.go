package zones

import "context"

// Repo persists planning zones.
type Repo interface {
	Save(ctx context.Context, zone Zone) (Zone, error)
	CountByAnalysisID(ctx context.Context, analysisID string) (int64, error)
	DeleteByAnalysisID(ctx context.Context, analysisID string) (int64, error)
	Count(ctx context.Context) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
}
