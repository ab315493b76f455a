package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/flashpendle/internal/domain"
)

// Modos de ejecución aceptados por Validate.
const (
	ModePaper = "paper" // ejecuta contra la cadena simulada
	ModeLive  = "live"  // firma y envía transacciones reales
)

// Config es la configuración completa del bot.
type Config struct {
	Scanner   ScannerConfig   `yaml:"scanner"`
	Cost      CostConfig      `yaml:"cost"`
	Execution ExecutionConfig `yaml:"execution"`
	API       APIConfig       `yaml:"api"`
	Chain     ChainConfig     `yaml:"chain"`
	Paper     PaperConfig     `yaml:"paper"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`
}

// ScannerConfig controla el descubrimiento y dimensionado de oportunidades.
type ScannerConfig struct {
	IntervalSeconds int       `yaml:"interval_seconds"`
	SizeLadder      []float64 `yaml:"size_ladder"` // tamaños candidatos en unidades del underlying
	MinProfitBps    float64   `yaml:"min_profit_bps"`
	MinLiquidityUSD float64   `yaml:"min_liquidity_usd"`
	ReadWorkers     int       `yaml:"read_workers"`
}

// CostConfig alimenta domain.CostModel.
type CostConfig struct {
	SlippageBps   float64 `yaml:"slippage_bps"`
	MintRedeemBps float64 `yaml:"mint_redeem_bps"`
	GasUnits      uint64  `yaml:"gas_units"`
	GasPriceGwei  float64 `yaml:"gas_price_gwei"` // valor inicial; el oráculo lo actualiza en live
}

// ExecutionConfig describe prestamista, router y las guardas del loop.
type ExecutionConfig struct {
	LenderKind      string  `yaml:"lender_kind"` // vault | pool
	LenderAddress   string  `yaml:"lender_address"`
	Router          string  `yaml:"router"`
	FlashFeeBps     float64 `yaml:"flash_fee_bps"`
	MaxFailures     int     `yaml:"max_failures"` // fallos seguidos antes de abrir el breaker
	CooldownMinutes int     `yaml:"cooldown_minutes"`
	LockKey         string  `yaml:"lock_key"`
	LockTTLSeconds  int     `yaml:"lock_ttl_seconds"`
	StopFile        string  `yaml:"stop_file"`
}

// APIConfig contiene el base URL de la API de mercados.
type APIConfig struct {
	PendleBase string `yaml:"pendle_base"`
}

// ChainConfig identifica la red y el contrato desplegado.
type ChainConfig struct {
	ID         int64  `yaml:"id"`
	RPCURL     string `yaml:"rpc_url"`
	Contract   string `yaml:"contract"`
	PrivateKey string `yaml:"-"` // solo desde FLASH_PRIVATE_KEY
}

// PaperConfig parametriza la cadena simulada.
type PaperConfig struct {
	RedeemFeeBps int64 `yaml:"redeem_fee_bps"`
	PoolFeeBps   int64 `yaml:"pool_fee_bps"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// RedisConfig habilita el lock entre réplicas. Addr vacío = sin lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	setDefaults(&cfg)

	return &cfg, nil
}

// Validate comprueba lo que cada modo necesita para arrancar.
func (c *Config) Validate(mode string) error {
	var errs []error

	if _, err := domain.ParseLenderKind(c.Execution.LenderKind); err != nil {
		errs = append(errs, err)
	}
	if len(c.Scanner.SizeLadder) == 0 {
		errs = append(errs, errors.New("scanner.size_ladder is empty"))
	}
	for _, s := range c.Scanner.SizeLadder {
		if s <= 0 {
			errs = append(errs, fmt.Errorf("scanner.size_ladder: non-positive size %v", s))
			break
		}
	}

	switch mode {
	case ModePaper:
		if c.Chain.RPCURL == "" {
			errs = append(errs, errors.New("chain.rpc_url (FLASH_RPC_URL) is required"))
		}
		errs = append(errs, checkAddress("execution.lender_address", c.Execution.LenderAddress))
		errs = append(errs, checkAddress("execution.router", c.Execution.Router))
	case ModeLive:
		if c.Chain.RPCURL == "" {
			errs = append(errs, errors.New("chain.rpc_url (FLASH_RPC_URL) is required"))
		}
		if c.Chain.PrivateKey == "" {
			errs = append(errs, errors.New("FLASH_PRIVATE_KEY is required in live mode"))
		}
		errs = append(errs, checkAddress("chain.contract (FLASH_CONTRACT)", c.Chain.Contract))
		errs = append(errs, checkAddress("execution.lender_address", c.Execution.LenderAddress))
		errs = append(errs, checkAddress("execution.router", c.Execution.Router))
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", mode))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config.Validate(%s): %w", mode, err)
	}
	return nil
}

// ScanInterval devuelve el intervalo entre ciclos como time.Duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Scanner.IntervalSeconds) * time.Second
}

// Cooldown devuelve la pausa del circuit breaker.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Execution.CooldownMinutes) * time.Minute
}

// LockTTL devuelve la vida máxima del lock de ejecución.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Execution.LockTTLSeconds) * time.Second
}

// Lender construye la referencia al prestamista. Llamar después de Validate.
func (c *Config) Lender() domain.LenderRef {
	kind, _ := domain.ParseLenderKind(c.Execution.LenderKind)
	return domain.LenderRef{Kind: kind, Address: common.HexToAddress(c.Execution.LenderAddress)}
}

// RouterAddress devuelve la dirección del router.
func (c *Config) RouterAddress() common.Address {
	return common.HexToAddress(c.Execution.Router)
}

// ContractAddress devuelve la dirección del contrato de arbitraje.
func (c *Config) ContractAddress() common.Address {
	return common.HexToAddress(c.Chain.Contract)
}

// CostModel arma el modelo de costes del scanner.
func (c *Config) CostModel() domain.CostModel {
	return domain.CostModel{
		SlippageBps:   c.Cost.SlippageBps,
		MintRedeemBps: c.Cost.MintRedeemBps,
		FlashFeeBps:   c.Execution.FlashFeeBps,
		GasUnits:      c.Cost.GasUnits,
		GasPriceGwei:  c.Cost.GasPriceGwei,
	}
}

func checkAddress(field, v string) error {
	if !common.IsHexAddress(v) {
		return fmt.Errorf("%s: invalid address %q", field, v)
	}
	if common.HexToAddress(v) == (common.Address{}) {
		return fmt.Errorf("%s: zero address", field)
	}
	return nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("FLASH_PRIVATE_KEY"); v != "" {
		cfg.Chain.PrivateKey = v
	}
	if v := os.Getenv("FLASH_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("FLASH_CONTRACT"); v != "" {
		cfg.Chain.Contract = v
	}
	if v := os.Getenv("FLASH_CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("FLASH_CHAIN_ID: %w", err)
		}
		cfg.Chain.ID = id
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	return nil
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	def := domain.DefaultCostModel()

	if cfg.Scanner.IntervalSeconds <= 0 {
		cfg.Scanner.IntervalSeconds = 15
	}
	if len(cfg.Scanner.SizeLadder) == 0 {
		cfg.Scanner.SizeLadder = []float64{1, 10, 100, 1000}
	}
	if cfg.Scanner.MinProfitBps <= 0 {
		cfg.Scanner.MinProfitBps = 15
	}
	if cfg.Scanner.MinLiquidityUSD <= 0 {
		cfg.Scanner.MinLiquidityUSD = 100_000
	}
	if cfg.Scanner.ReadWorkers <= 0 {
		cfg.Scanner.ReadWorkers = 8
	}
	if cfg.Cost.SlippageBps <= 0 {
		cfg.Cost.SlippageBps = def.SlippageBps
	}
	if cfg.Cost.MintRedeemBps <= 0 {
		cfg.Cost.MintRedeemBps = def.MintRedeemBps
	}
	if cfg.Cost.GasUnits == 0 {
		cfg.Cost.GasUnits = def.GasUnits
	}
	if cfg.Execution.LenderKind == "" {
		cfg.Execution.LenderKind = "vault"
	}
	if cfg.Execution.MaxFailures <= 0 {
		cfg.Execution.MaxFailures = 3
	}
	if cfg.Execution.CooldownMinutes <= 0 {
		cfg.Execution.CooldownMinutes = 10
	}
	if cfg.Execution.LockKey == "" {
		cfg.Execution.LockKey = "flashpendle:execute"
	}
	if cfg.Execution.LockTTLSeconds <= 0 {
		cfg.Execution.LockTTLSeconds = 120
	}
	if cfg.Execution.StopFile == "" {
		cfg.Execution.StopFile = "STOP_FLASH"
	}
	if cfg.API.PendleBase == "" {
		cfg.API.PendleBase = "https://api-v2.pendle.finance"
	}
	if cfg.Chain.ID == 0 {
		cfg.Chain.ID = 1
	}
	if cfg.Paper.PoolFeeBps <= 0 {
		cfg.Paper.PoolFeeBps = 10
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "flashpendle.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
