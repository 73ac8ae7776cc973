package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed calibration.yaml
var calibrationYAML []byte

type Config struct {
	Model       ModelConfig
	Database    DatabaseConfig
	Profile     ProfileConfig
	Contacts    ContactsConfig
	Peer        PeerConfig
	Calibration Calibration
}

type ModelConfig struct {
	URL  string // inference server base URL, defaults to http://localhost:8000
	Name string // model identifier, for reference only
	Dim  int    // embedding dimensionality, defaults to 512
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type ProfileConfig struct {
	Path       string // path to the persisted user profile (JSON)
	FamilyName string // configured family name for contact trust weighting
}

type ContactsConfig struct {
	Dir string // directory with address-book portrait images
}

type PeerConfig struct {
	ListenAddr     string // websocket listen address, defaults to :9400
	DisplayName    string // advertised device name
	AutoSendPhotos bool   // send matching local photos back to peers
}

// Calibration holds the tuned constants of the matching pipeline.
// Loaded from the embedded calibration.yaml.
type Calibration struct {
	Scorer   ScorerCalibration   `yaml:"scorer"`
	Quality  QualityCalibration  `yaml:"quality"`
	Match    MatchCalibration    `yaml:"match"`
	Grouping GroupingCalibration `yaml:"grouping"`
	Trust    TrustCalibration    `yaml:"trust"`
	Peer     PeerCalibration     `yaml:"peer"`
}

type ScorerCalibration struct {
	Weights          ScorerWeights `yaml:"weights"`
	SmoothingRadius  int           `yaml:"smoothing_radius"`
	BoostDims        int           `yaml:"boost_dims"`
	BoostFactor      float64       `yaml:"boost_factor"`
	SigmoidSteepness float64       `yaml:"sigmoid_steepness"`
	HighBand         float64       `yaml:"high_band"`
	LowBand          float64       `yaml:"low_band"`
}

// ScorerWeights are the fusion weights for the component metrics.
// They must sum to 1.0.
type ScorerWeights struct {
	Cosine      float64 `yaml:"cosine"`
	Euclidean   float64 `yaml:"euclidean"`
	Manhattan   float64 `yaml:"manhattan"`
	Pearson     float64 `yaml:"pearson"`
	Mahalanobis float64 `yaml:"mahalanobis"`
	Jaccard     float64 `yaml:"jaccard"`
	Chebyshev   float64 `yaml:"chebyshev"`
	Canberra    float64 `yaml:"canberra"`
}

type QualityCalibration struct {
	MinQuality    float64 `yaml:"min_quality"`
	BlurThreshold float64 `yaml:"blur_threshold"`
}

type MatchCalibration struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

type GroupingCalibration struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

type TrustCalibration struct {
	SelfProfile   float32 `yaml:"self_profile"`
	ContactFamily float32 `yaml:"contact_family"`
	Contact       float32 `yaml:"contact"`
	Peer          float32 `yaml:"peer"`
}

type PeerCalibration struct {
	PhotoMatchThreshold   float64 `yaml:"photo_match_threshold"`
	ContactMatchThreshold float64 `yaml:"contact_match_threshold"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envStr reads an environment variable with a default.
func envStr(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envBool reads an environment variable as a boolean ("1", "true", "yes").
func envBool(key string) bool {
	switch os.Getenv(key) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// DefaultCalibration returns the calibration constants from the embedded
// calibration.yaml. Panics on unmarshal failure since the file ships with
// the binary.
func DefaultCalibration() Calibration {
	var cal Calibration
	if err := yaml.Unmarshal(calibrationYAML, &cal); err != nil {
		panic("failed to unmarshal embedded calibration.yaml: " + err.Error())
	}
	return cal
}

func Load() *Config {
	return &Config{
		Model: ModelConfig{
			URL:  envStr("MODEL_URL", "http://localhost:8000"),
			Name: envStr("MODEL_NAME", "facenet"),
			Dim:  envInt("MODEL_DIM", 512),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Profile: ProfileConfig{
			Path:       envStr("PROFILE_PATH", "profile.json"),
			FamilyName: os.Getenv("PROFILE_FAMILY_NAME"),
		},
		Contacts: ContactsConfig{
			Dir: os.Getenv("CONTACTS_DIR"),
		},
		Peer: PeerConfig{
			ListenAddr:     envStr("PEER_LISTEN_ADDR", ":9400"),
			DisplayName:    envStr("PEER_DISPLAY_NAME", hostname()),
			AutoSendPhotos: envBool("PEER_AUTO_SEND_PHOTOS"),
		},
		Calibration: DefaultCalibration(),
	}
}

func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "faceshare"
}
