package config

import (
	"fmt"
	"os"

	"github.com/go-yaml/yaml"

	"github.com/propdao/propindex/internal/domain"
)

type Config struct {
	Server  Server  `yaml:"server"`
	Token   Token   `yaml:"token"`
	Staking Staking `yaml:"staking"`
	Oracle  Oracle  `yaml:"oracle"`
}

type Server struct {
	ListenAddr    string  `yaml:"listenAddr"`
	PostgresDsn   string  `yaml:"postgresDsn"`
	RedisAddr     string  `yaml:"redisAddr"`
	RedisDB       int     `yaml:"redisDB"`
	MemcachedAddr string  `yaml:"memcachedAddr"`
	EnableTrace   bool    `yaml:"enableTrace"`
	TraceEndpoint string  `yaml:"traceEndpoint"`
	SnapshotDir   string  `yaml:"snapshotDir"`
	RateLimit     float64 `yaml:"rateLimit"` // requests per second per client
	RateBurst     int     `yaml:"rateBurst"`
}

type Token struct {
	Name   string `yaml:"name"`
	Symbol string `yaml:"symbol"`
	// TotalSupply is in whole tokens; base units are derived.
	TotalSupply uint64 `yaml:"totalSupply"`
	Owner       string `yaml:"owner"`
	StakingPool string `yaml:"stakingPool"`
	// ProposalThresholdBps is the creation threshold in basis points
	// of total supply (10 = 0.1%).
	ProposalThresholdBps uint64 `yaml:"proposalThresholdBps"`
	VotingDelaySeconds   int64  `yaml:"votingDelaySeconds"`
	VotingPeriodSeconds  int64  `yaml:"votingPeriodSeconds"`
}

type Staking struct {
	Periods          []Period `yaml:"periods"`
	MinMultiplier    uint64   `yaml:"minMultiplier"`
	MaxMultiplier    uint64   `yaml:"maxMultiplier"`
	MinPeriodSeconds int64    `yaml:"minPeriodSeconds"`
	MaxPeriodSeconds int64    `yaml:"maxPeriodSeconds"`
}

type Period struct {
	Seconds    int64  `yaml:"seconds"`
	Multiplier uint64 `yaml:"multiplier"` // scaled by domain.MultiplierBase
}

type Oracle struct {
	IntervalSeconds     int64    `yaml:"intervalSeconds"`
	MaxRetries          int      `yaml:"maxRetries"`
	RetryBackoffSeconds int64    `yaml:"retryBackoffSeconds"`
	HistoryLimit        int      `yaml:"historyLimit"`
	BasePrice           uint64   `yaml:"basePrice"` // scaled reference average price
	BaseIndex           uint64   `yaml:"baseIndex"` // index value at the reference price
	Updater             string   `yaml:"updater"`
	Variation           float64  `yaml:"variation"` // synthetic bounded variation, e.g. 0.02
	Sources             []Source `yaml:"sources"`
	Cities              []City   `yaml:"cities"`
}

type Source struct {
	Name           string `yaml:"name"`
	URL            string `yaml:"url"`
	Weight         uint64 `yaml:"weight"`
	TimeoutSeconds int64  `yaml:"timeoutSeconds"`
}

type City struct {
	ID        uint64 `yaml:"id"`
	Name      string `yaml:"name"`
	Weight    uint64 `yaml:"weight"`
	BasePrice uint64 `yaml:"basePrice"` // scaled by domain.PriceScale
}

func Load(path string) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	var config Config
	err = yaml.NewDecoder(file).Decode(&config)
	if err != nil {
		return Config{}, err
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8000"
	}
	if c.Server.SnapshotDir == "" {
		c.Server.SnapshotDir = "./data"
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 20
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 40
	}
	if c.Token.TotalSupply == 0 {
		c.Token.TotalSupply = 100_000_000
	}
	if c.Token.ProposalThresholdBps == 0 {
		c.Token.ProposalThresholdBps = 10 // 0.1%
	}
	if c.Token.VotingDelaySeconds == 0 {
		c.Token.VotingDelaySeconds = 3600
	}
	if c.Token.VotingPeriodSeconds == 0 {
		c.Token.VotingPeriodSeconds = 7 * 24 * 3600
	}
	if len(c.Staking.Periods) == 0 {
		c.Staking.Periods = []Period{
			{Seconds: 30 * 24 * 3600, Multiplier: 110},
			{Seconds: 90 * 24 * 3600, Multiplier: 125},
			{Seconds: 180 * 24 * 3600, Multiplier: 150},
			{Seconds: 365 * 24 * 3600, Multiplier: 200},
		}
	}
	if c.Staking.MinMultiplier == 0 {
		c.Staking.MinMultiplier = 100
	}
	if c.Staking.MaxMultiplier == 0 {
		c.Staking.MaxMultiplier = 500
	}
	if c.Staking.MinPeriodSeconds == 0 {
		c.Staking.MinPeriodSeconds = 7 * 24 * 3600
	}
	if c.Staking.MaxPeriodSeconds == 0 {
		c.Staking.MaxPeriodSeconds = 1460 * 24 * 3600
	}
	if c.Oracle.IntervalSeconds == 0 {
		c.Oracle.IntervalSeconds = 24 * 3600
	}
	if c.Oracle.MaxRetries == 0 {
		c.Oracle.MaxRetries = 3
	}
	if c.Oracle.RetryBackoffSeconds == 0 {
		c.Oracle.RetryBackoffSeconds = 30
	}
	if c.Oracle.HistoryLimit == 0 {
		c.Oracle.HistoryLimit = 100
	}
	if c.Oracle.BasePrice == 0 {
		c.Oracle.BasePrice = 100_000 // 1000.00 scaled
	}
	if c.Oracle.BaseIndex == 0 {
		c.Oracle.BaseIndex = 100_000 // index 1000.00 scaled
	}
	if c.Oracle.Variation == 0 {
		c.Oracle.Variation = 0.02
	}
}

func (c *Config) validate() error {
	for field, addr := range map[string]*string{
		"token.owner":       &c.Token.Owner,
		"token.stakingPool": &c.Token.StakingPool,
		"oracle.updater":    &c.Oracle.Updater,
	} {
		if *addr == "" {
			return fmt.Errorf("config: %s is required", field)
		}
		normalized, err := domain.NormalizeAddress(*addr)
		if err != nil {
			return fmt.Errorf("config: %s: %w", field, err)
		}
		*addr = normalized
	}

	if len(c.Oracle.Cities) == 0 {
		return fmt.Errorf("config: oracle.cities must not be empty")
	}
	for _, city := range c.Oracle.Cities {
		if city.Weight == 0 {
			return fmt.Errorf("config: city %d has zero weight", city.ID)
		}
	}

	return nil
}

// TotalSupplyUnits is the initial issuance in base units.
func (c Token) TotalSupplyUnits() uint64 {
	return c.TotalSupply * domain.TokenUnit
}

// ProposalThresholdUnits is the minimum balance required to create a
// proposal, in base units.
func (c Token) ProposalThresholdUnits() uint64 {
	return c.TotalSupplyUnits() / 10_000 * c.ProposalThresholdBps
}
