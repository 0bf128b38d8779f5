package config

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/petervdpas/relaycall/internal/util"
)

type Config struct {
	Identity Identity `json:"identity"`
	P2P      P2P      `json:"p2p"`
	Call     Call     `json:"call"`
	Media    Media    `json:"media"`
	Storage  Storage  `json:"storage"`
}

type Identity struct {
	KeyFile string `json:"key_file"`
}

type P2P struct {
	ListenPort  int    `json:"listen_port"`
	SignalTopic string `json:"signal_topic"`
	MdnsTag     string `json:"mdns_tag"`
}

type Call struct {
	// ConnectTimeoutSec bounds how long an outgoing call may stay in
	// "calling" before it fails.
	ConnectTimeoutSec int `json:"connect_timeout_seconds"`

	// RingTimeoutSec bounds how long an incoming call rings unanswered
	// before it is auto-rejected.
	RingTimeoutSec int `json:"ring_timeout_seconds"`

	// SubscribeWindowSec bounds how far back the per-peer subscription
	// looks for signaling records. Records older than this window are
	// unreachable; the window must cover relay propagation latency plus
	// peer clock skew, so keep it well above a few seconds.
	SubscribeWindowSec int `json:"subscribe_window_seconds"`

	// PublishTimeoutSec bounds one relay publish attempt.
	PublishTimeoutSec int `json:"publish_timeout_seconds"`
}

type Media struct {
	PreferredCam  string `json:"preferred_cam"`
	PreferredMic  string `json:"preferred_mic"`
	VideoDisabled bool   `json:"video_disabled"`
}

type Storage struct {
	// DBPath is the SQLite file holding call history and contacts,
	// relative to the peer directory.
	DBPath string `json:"db_path"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			KeyFile: "data/identity.key",
		},
		P2P: P2P{
			ListenPort:  0,
			SignalTopic: "relaycall.signal.v1",
			MdnsTag:     "relaycall-mdns",
		},
		Call: Call{
			ConnectTimeoutSec:  60,
			RingTimeoutSec:     45,
			SubscribeWindowSec: 60,
			PublishTimeoutSec:  5,
		},
		Storage: Storage{
			DBPath: "data/relaycall.db",
		},
	}
}

func (c *Config) Validate() error {
	if c.Identity.KeyFile == "" {
		return errors.New("identity.key_file is required")
	}
	if c.P2P.ListenPort < 0 || c.P2P.ListenPort > 65535 {
		return errors.New("p2p.listen_port must be 0..65535")
	}
	if c.P2P.SignalTopic == "" {
		return errors.New("p2p.signal_topic is required")
	}
	if c.Call.ConnectTimeoutSec <= 0 {
		return errors.New("call.connect_timeout_seconds must be > 0")
	}
	if c.Call.RingTimeoutSec <= 0 {
		return errors.New("call.ring_timeout_seconds must be > 0")
	}
	if c.Call.SubscribeWindowSec <= 0 {
		return errors.New("call.subscribe_window_seconds must be > 0")
	}
	if c.Call.PublishTimeoutSec <= 0 {
		return errors.New("call.publish_timeout_seconds must be > 0")
	}
	if c.Storage.DBPath == "" {
		return errors.New("storage.db_path is required")
	}
	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, err
	}
	return cfg, true, nil
}
