package config

const (
	defaultBudget  = 200_000
	defaultReserve = 4_000

	defaultTokenCeiling        = 10_000
	defaultPruneDaysThreshold  = 30
	defaultPruneReferenceFloor = 5
	defaultMinContentLength    = 3
	defaultConfidence          = 0.5
	defaultFactsResource       = "facts"

	defaultStorageProvider = "file"
	defaultStoragePeriod   = "monthly"
	defaultLockProvider    = "file"
	defaultLockRetries     = 5
	defaultLockBackoff     = "50ms"
	defaultLockMaxBackoff  = "1s"
	defaultLockTTL         = "10s"

	defaultTokenizer = "chars"
	defaultEncoding  = "cl100k_base"

	defaultAPIListen = ":8090"

	defaultEventsProvider = "nop"
	defaultEventsTopic    = "mnemo.events"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Context: ContextConfig{
			Budget:  defaultBudget,
			Reserve: defaultReserve,
		},
		Facts: FactsConfig{
			TokenCeiling:        defaultTokenCeiling,
			PruneDaysThreshold:  defaultPruneDaysThreshold,
			PruneReferenceFloor: defaultPruneReferenceFloor,
			MinContentLength:    defaultMinContentLength,
			DefaultConfidence:   defaultConfidence,
			Resource:            defaultFactsResource,
		},
		Storage: StorageConfig{
			Provider: defaultStorageProvider,
			Period:   defaultStoragePeriod,
		},
		Lock: LockConfig{
			Provider:   defaultLockProvider,
			Retries:    defaultLockRetries,
			Backoff:    defaultLockBackoff,
			MaxBackoff: defaultLockMaxBackoff,
			TTL:        defaultLockTTL,
		},
		Tokenizer: TokenizerConfig{
			Provider: defaultTokenizer,
			Encoding: defaultEncoding,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
			Topic:    defaultEventsTopic,
		},
	}
}
