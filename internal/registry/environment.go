package registry

import (
	"sync/atomic"

	"github.com/kiranshivaraju/enaupload/internal/config"
)

// Environment selects between the production and staging registry. It is
// created once at startup and shared by the adapters and the admin API; only
// SetStaging changes it.
type Environment struct {
	staging atomic.Bool

	submitURL        string
	stagingSubmitURL string
	browserURL       string
	stagingBrowser   string
}

func NewEnvironment(cfg config.RegistryConfig) *Environment {
	e := &Environment{
		submitURL:        cfg.SubmitURL,
		stagingSubmitURL: cfg.DevSubmitURL,
		browserURL:       cfg.BrowserURL,
		stagingBrowser:   cfg.DevBrowserURL,
	}
	e.staging.Store(cfg.UseDevEndpoint)
	return e
}

// Staging reports whether submissions go to the test registry.
func (e *Environment) Staging() bool {
	return e.staging.Load()
}

// SetStaging switches the target registry and returns the previous setting.
func (e *Environment) SetStaging(v bool) bool {
	return e.staging.Swap(v)
}

func (e *Environment) SubmitURL() string {
	if e.Staging() {
		return e.stagingSubmitURL
	}
	return e.submitURL
}

func (e *Environment) BrowserURL() string {
	if e.Staging() {
		return e.stagingBrowser
	}
	return e.browserURL
}

// Snapshot is the view exposed by the admin API.
type Snapshot struct {
	Staging    bool   `json:"use_dev_endpoint"`
	SubmitURL  string `json:"endpoint"`
	BrowserURL string `json:"browser"`
}

func (e *Environment) Snapshot() Snapshot {
	staging := e.Staging()
	s := Snapshot{Staging: staging, SubmitURL: e.submitURL, BrowserURL: e.browserURL}
	if staging {
		s.SubmitURL, s.BrowserURL = e.stagingSubmitURL, e.stagingBrowser
	}
	return s
}
