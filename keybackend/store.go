package keybackend

// KeysConfig holds configuration for loading access keys.
type KeysConfig struct {
	Inline []KeyPair `mapstructure:"inline"` // Inline key pairs from config
	File   string    `mapstructure:"file"`   // Path to JSON file containing key pairs
}

// NewSecretStore creates a secret store from the given configuration.
// It loads keys from both inline config and file (if specified),
// merging them into a single store. File keys take precedence over
// inline keys if there are duplicates.
func NewSecretStore(cfg KeysConfig) (*MapSecretStore, error) {
	pairs := make([]KeyPair, 0, len(cfg.Inline))
	pairs = append(pairs, cfg.Inline...)

	if cfg.File != "" {
		filePairs, err := LoadKeysFromFile(cfg.File)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, filePairs...)
	}

	return NewScopedSecretStore(pairs), nil
}
