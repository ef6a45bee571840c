package cmn

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	original := DefaultConfig()
	original.DataDir = "/var/cdx"
	original.Port = 9090
	original.CDX14 = true
	original.MaxNumResults = 500

	if err := SaveConfigFile(path, original); err != nil {
		t.Fatal(err)
	}

	loaded := DefaultConfig()
	if err := LoadConfigFile(path, loaded); err != nil {
		t.Fatal(err)
	}
	if loaded.DataDir != original.DataDir || loaded.Port != original.Port ||
		loaded.CDX14 != original.CDX14 || loaded.MaxNumResults != original.MaxNumResults {
		t.Fatalf("round trip mismatch: got %+v, want %+v", loaded, original)
	}
}

func TestLoadConfigFileRejectsWrongSignature(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	cf := configFile{Signature: "not-cdxcfg", Version: configVersion, Body: DefaultConfig()}
	if err := jsonAPI.NewEncoder(f).Encode(&cf); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if err := LoadConfigFile(path, DefaultConfig()); err == nil {
		t.Fatal("expected an error for a config file with the wrong signature")
	}
}

func TestFlagsToConfigExplicitFlagWinsOverDefault(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cli := RegisterFlags(fs)
	if err := fs.Parse([]string{"-data-dir=/data", "-port=1234", "-cdx14"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := FlagsToConfig(cli)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/data" {
		t.Fatalf("DataDir = %q, want /data", cfg.DataDir)
	}
	if cfg.Port != 1234 {
		t.Fatalf("Port = %d, want 1234", cfg.Port)
	}
	if !cfg.CDX14 {
		t.Fatal("expected -cdx14 flag to set CDX14")
	}
}

func TestFlagsToConfigSecondaryModeForcesReadOnly(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cli := RegisterFlags(fs)
	if err := fs.Parse([]string{"-data-dir=/data", "-secondary-mode"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := FlagsToConfig(cli)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.SecondaryMode {
		t.Fatal("expected SecondaryMode to be set")
	}
	if cfg.AcceptWrites {
		t.Fatal("expected AcceptWrites to be false when SecondaryMode is set")
	}
}

func TestFlagsToConfigRequiresDataDir(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cli := RegisterFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatal(err)
	}

	if _, err := FlagsToConfig(cli); err == nil {
		t.Fatal("expected an error when data-dir is unset")
	}
}

func TestFlagsToConfigQueryTimeoutMsConvertsToDuration(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cli := RegisterFlags(fs)
	if err := fs.Parse([]string{"-data-dir=/data", "-query-timeout-ms=5000"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := FlagsToConfig(cli)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.QueryTimeout != 5*time.Second {
		t.Fatalf("QueryTimeout = %v, want 5s", cfg.QueryTimeout)
	}
}
