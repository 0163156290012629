package settings

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSettings_ReadDotenv(t *testing.T) {
	t.Run("success - .env files is read into env variables", func(t *testing.T) {
		// arrange
		testDotEnvFile := ".env.test"
		f, err := os.Create(testDotEnvFile)
		if err != nil {
			t.Error(err)
		}
		lines := []string{
			`#COMMENTED=asdf`,
			`VERIFY_CI_TEST=1234`,
			``,
			`VERIFY_CI_TEST2= 2345 `,
			`VERIFY_CI_DSN="postgres://ci@localhost/ci?sslmode=disable"`,
		}
		for _, line := range lines {
			f.Write([]byte(line + "\n"))
		}
		f.Close()
		defer os.Remove(testDotEnvFile)

		// act
		ReadDotenv(testDotEnvFile)

		// assert
		assert.Equal(t, "1234", os.Getenv("VERIFY_CI_TEST"))
		assert.Equal(t, "2345", os.Getenv("VERIFY_CI_TEST2"))
		assert.Equal(t, "postgres://ci@localhost/ci?sslmode=disable", os.Getenv("VERIFY_CI_DSN"))
	})
	t.Run("success - missing .env file is ignored", func(t *testing.T) {
		// act & assert
		assert.NotPanics(t, func() { ReadDotenv(".env.does-not-exist") })
	})
}

func TestSettings_NewSettings(t *testing.T) {
	t.Run("success - port is prefixed and agent is disabled by default", func(t *testing.T) {
		// arrange
		t.Setenv("VERIFYCI_PORT", "9090")

		// act
		s := NewSettings()

		// assert
		assert.Equal(t, ":9090", s.Port)
		assert.False(t, s.UsesAgent())
		assert.Equal(t, "sqlite", s.MigrationDialect())
	})
	t.Run("success - pgx driver uses raw dsn and postgres dialect", func(t *testing.T) {
		// arrange
		t.Setenv("VERIFYCI_DB_DRIVER", DriverPgx)
		t.Setenv("VERIFYCI_DB_PATH", "postgres://ci@localhost/ci")

		// act
		s := NewSettings()

		// assert
		assert.Equal(t, "postgres://ci@localhost/ci", s.DatabaseDSN(true))
		assert.Equal(t, "postgres", s.MigrationDialect())
	})
}

func TestSettings_SQLiteDbString(t *testing.T) {
	t.Run("success - read only connection string", func(t *testing.T) {
		// arrange
		s := &AppSettings{DatabaseURL: "file:test.sqlite"}

		// act
		dsn := s.SQLiteDbString(true)

		// assert
		assert.Contains(t, dsn, "mode=ro")
		assert.NotContains(t, dsn, "_txlock")
	})
	t.Run("success - read write connection string", func(t *testing.T) {
		// arrange
		s := &AppSettings{DatabaseURL: "file:test.sqlite"}

		// act
		dsn := s.SQLiteDbString(false)

		// assert
		assert.Contains(t, dsn, "mode=rwc")
		assert.Contains(t, dsn, "_txlock=immediate")
	})
}
