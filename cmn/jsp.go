package cmn

import (
	"os"

	"github.com/golang/glog"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// The on-disk config format: a short signature, a format version, then a
// jsoniter-encoded body. Mirrors the teacher's cmn/jsp persistence scheme
// (signature + version prefix, tmp-file-then-rename saves) without
// reproducing its checksum/compression options, which this server has no
// use for.
const (
	configSignature = "cdxcfg"
	configVersion    = 1
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

type configFile struct {
	Signature string `json:"sig"`
	Version   int    `json:"ver"`
	Body      *Config `json:"body"`
}

// LoadConfigFile decodes a JSON config file written by SaveConfigFile into
// cfg, overwriting any defaults already present.
func LoadConfigFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening config file %s", path)
	}
	defer f.Close()

	var cf configFile
	cf.Body = cfg
	if err := jsonAPI.NewDecoder(f).Decode(&cf); err != nil {
		return errors.Wrapf(err, "decoding config file %s", path)
	}
	if cf.Signature != "" && cf.Signature != configSignature {
		return NewError(KindInternal, "config file %s has unrecognized signature %q", path, cf.Signature)
	}
	return nil
}

// SaveConfigFile persists cfg atomically: write to a temp file in the same
// directory, flush, then rename over the target so a crash mid-write never
// leaves a half-written config behind.
func SaveConfigFile(path string, cfg *Config) (err error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "creating temp config file %s", tmp)
	}
	defer func() {
		if err != nil {
			if rmErr := os.Remove(tmp); rmErr != nil {
				glog.Errorf("nested (%v): failed to remove %s: %v", err, tmp, rmErr)
			}
		}
	}()

	cf := configFile{Signature: configSignature, Version: configVersion, Body: cfg}
	enc := jsonAPI.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err = enc.Encode(&cf); err != nil {
		glog.Errorf("failed to encode config %s: %v", path, err)
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmp)
	}
	if err = os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "renaming %s to %s", tmp, path)
	}
	return nil
}
