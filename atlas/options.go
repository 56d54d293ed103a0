package atlas

import (
	"github.com/veiloq/isokit/config"
)

// WithMigrations configures the engine to apply Atlas migrations, resolving
// the migration directory from the atlas.hcl at hclPath (typically
// "atlas.hcl" in the project root).
func WithMigrations(hclPath string) config.Option {
	return func(sts *config.Settings) {
		sts.SetApplier(New(hclPath))
	}
}
