package bitgrind

const (
	// AppName identifies this miner in logs and banners.
	AppName = "bitgrind"

	// Version is the current bitgrind version.
	Version = "1.2.0"
)
