package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
)

// LoadTestEnv loads the .env.test file and sets TARGET_URL from TEST_TARGET_URL
func LoadTestEnv(t *testing.T) {
	t.Helper()

	// If TARGET_URL is already set and not empty (e.g., in CI), use it
	if targetURL := os.Getenv("TARGET_URL"); targetURL != "" {
		t.Log("TARGET_URL already set in environment")
		return
	}

	// Find .env.test file (might be in parent directories during test runs)
	envPath := findEnvTestFile()
	if envPath == "" {
		t.Log("Warning: .env.test file not found, using environment variables as-is")
		return
	}

	// Load .env.test
	envMap, err := godotenv.Read(envPath)
	if err != nil {
		t.Logf("Warning: Failed to read %s: %v", envPath, err)
		return
	}

	// If TEST_TARGET_URL exists, set it as TARGET_URL
	if testTargetURL, exists := envMap["TEST_TARGET_URL"]; exists {
		os.Setenv("TARGET_URL", testTargetURL)
		t.Log("TARGET_URL set from TEST_TARGET_URL in .env.test")
	}
}

// findEnvTestFile searches for .env.test in current and parent directories
func findEnvTestFile() string {
	// Start from current directory
	dir, _ := os.Getwd()

	// Search up to 5 levels up
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env.test")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		// Move to parent directory
		parent := filepath.Dir(dir)
		if parent == dir {
			break // Reached root
		}
		dir = parent
	}

	return ""
}
