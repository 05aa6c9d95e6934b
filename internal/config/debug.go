package config

import "os"

func IsDebug() bool {
	return os.Getenv("LOOM_DEBUG") == "1"
}
