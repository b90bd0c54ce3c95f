// Package credfile applies normalized credential material to the shared AWS
// credentials file, one INI section per named profile. Both operations load
// and rewrite the whole file so hand-edited files survive untouched outside
// the targeted section.
package credfile

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/credmux/credmux/internal/session"
	"github.com/werf/lockgate"
	"github.com/werf/lockgate/pkg/file_locker"
	ini "gopkg.in/ini.v1"
)

var (
	ErrCredFile            = errors.New("credentials file error")
	ErrUnableToAcquireLock = errors.New("cannot acquire credentials file lock")
)

const lockResource = "credentials-file"

type Codec struct {
	path   string
	locker lockgate.Locker
}

// DefaultPath resolves the shared credentials file location, honoring
// AWS_SHARED_CREDENTIALS_FILE.
func DefaultPath() string {
	if overridden, exists := os.LookupEnv("AWS_SHARED_CREDENTIALS_FILE"); exists {
		return overridden
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path.Join(".aws", "credentials")
	}
	return path.Join(home, ".aws", "credentials")
}

func New(path string) (*Codec, error) {
	lockDir := filepath.Join(filepath.Dir(path), ".credmux-lock")
	locker, err := file_locker.NewFileLocker(lockDir)
	if err != nil {
		return nil, fmt.Errorf("cannot setup lock dir %s: %s, %w", lockDir, err, ErrCredFile)
	}
	return &Codec{path: path, locker: locker}, nil
}

func (c *Codec) WithLocker(locker lockgate.Locker) *Codec {
	c.locker = locker
	return c
}

func (c *Codec) ensureLock() (func(), error) {
	acquired, lock, err := c.locker.Acquire(lockResource, lockgate.AcquireOptions{Shared: false, Timeout: 1 * time.Minute})
	if err != nil {
		return nil, fmt.Errorf("%s, %w", err, ErrUnableToAcquireLock)
	}
	if !acquired {
		return nil, ErrUnableToAcquireLock
	}
	return func() {
		if err := c.locker.Release(lock); err != nil {
			fmt.Fprintf(os.Stderr, "credentials file lock release: %v\n", err)
		}
	}, nil
}

func (c *Codec) loadFile() (*ini.File, error) {
	cfg, err := ini.Load(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ini.Empty(), nil
		}
		return nil, fmt.Errorf("fail to read %s: %s, %w", c.path, err, ErrCredFile)
	}
	return cfg, nil
}

func (c *Codec) save(cfg *ini.File) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return fmt.Errorf("%s, %w", err, ErrCredFile)
	}
	if err := cfg.SaveTo(c.path); err != nil {
		return fmt.Errorf("fail to write %s: %s, %w", c.path, err, ErrCredFile)
	}
	return nil
}

// Apply upserts the profile section with the material's keys.
func (c *Codec) Apply(profileName string, material *session.CredentialMaterial) error {
	release, err := c.ensureLock()
	if err != nil {
		return err
	}
	defer release()

	cfg, err := c.loadFile()
	if err != nil {
		return err
	}
	sect := cfg.Section(profileName)
	sect.Key("aws_access_key_id").SetValue(material.AccessKeyID)
	sect.Key("aws_secret_access_key").SetValue(material.SecretAccessKey)
	sect.Key("aws_session_token").SetValue(material.SessionToken)
	if material.Region != "" {
		sect.Key("region").SetValue(material.Region)
	}
	return c.save(cfg)
}

// DeApply removes the profile section, leaving every other section as it was.
// A missing section is not an error; de-activation must be idempotent.
func (c *Codec) DeApply(profileName string) error {
	release, err := c.ensureLock()
	if err != nil {
		return err
	}
	defer release()

	cfg, err := c.loadFile()
	if err != nil {
		return err
	}
	if !cfg.HasSection(profileName) {
		return nil
	}
	cfg.DeleteSection(profileName)
	return c.save(cfg)
}

// Has reports whether a block exists for the profile.
func (c *Codec) Has(profileName string) (bool, error) {
	cfg, err := c.loadFile()
	if err != nil {
		return false, err
	}
	return cfg.HasSection(profileName), nil
}
