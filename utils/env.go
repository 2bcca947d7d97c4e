package utils

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnv loads .env from the working directory. Variables that are already
// set keep their values and a missing file is not an error.
func LoadEnv() error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// DatabaseURL returns DATABASE_URL, or "" when it is not set.
func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}
