package vocab

import (
	"os"

	"go.uber.org/fx"

	config "github.com/varilab/regsync/internal/config"
	"github.com/varilab/regsync/internal/support/exception"
	"github.com/varilab/regsync/internal/support/logger"
)

// EmbeddedVocabularies holds the dictionary resource compiled into the
// binary, passed from main.
type EmbeddedVocabularies []byte

// NewMapper loads the dictionaries from the configured file path, falling
// back to the embedded resource when no path is set.
func NewMapper(cfg *config.Config, embedded EmbeddedVocabularies) (*Mapper, error) {
	if path := cfg.Regsync.Vocabularies; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, exception.NewPipelineError("vocab", "failed to read vocabulary file "+path, err, false, false)
		}
		logger.Infof("Loaded vocabulary dictionaries from %s.", path)
		return Load(data)
	}
	return Load(embedded)
}

// Module provides the vocabulary mapper to the Fx application.
var Module = fx.Options(
	fx.Provide(NewMapper),
)
