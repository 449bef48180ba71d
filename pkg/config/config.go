package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config 应用配置结构
type Config struct {
	// 环境配置
	Environment string
	Port        string

	// 数据库配置
	UseLocalDB  bool
	PostgresDSN string

	// 缓存配置
	RedisAddr string

	// 签名密钥（state token / webhook 校验共用的应用密钥）
	AppSecret string
	StateTTL  time.Duration

	// Google OAuth配置
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	GoogleAuthURL      string
	GoogleTokenURL     string
	GoogleUserinfoURL  string
	AllowMockAuth      bool

	// GitHub App配置
	GitHubAppID         string
	GitHubAppSlug       string
	GitHubAppPrivateKey string
	GitHubAPIToken      string
	GitHubWebhookSecret string
	GitHubAPIBaseURL    string

	// Billing配置
	BarobillLinked bool

	// CORS配置
	AllowedOrigins []string

	// 调试配置
	Debug bool
}

// LoadConfig 加载配置（env + .env 文件）
func LoadConfig() *Config {
	// 根据环境加载对应的 .env 文件
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development" // 默认开发环境
	}

	// 按优先级加载环境文件
	switch env {
	case "production":
		loadEnvFile(".env.production")
	default:
		loadEnvFile(".env.local")
	}

	config := &Config{
		// 默认值
		Environment: getEnvWithDefault("ENVIRONMENT", "development"),
		Port:        getEnvWithDefault("PORT", "3000"),
		UseLocalDB:  getEnvBool("USE_LOCAL_DB", true),
		AppSecret:   getEnvWithDefault("APP_SECRET", "dev-secret-change-me"),
		Debug:       getEnvBool("DEBUG", false),
	}

	// state token 有效期，默认 900 秒
	config.StateTTL = time.Duration(getEnvInt("STATE_TTL_SECONDS", 900)) * time.Second

	// 数据库配置
	// Trim whitespace to avoid trailing spaces/newlines from env sources
	config.PostgresDSN = strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	config.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))

	// Google OAuth配置
	config.GoogleClientID = strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID"))
	config.GoogleClientSecret = strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_SECRET"))
	config.GoogleRedirectURI = getEnvWithDefault("GOOGLE_REDIRECT_URI", "http://localhost:3000/oauth/google/callback")
	config.GoogleAuthURL = getEnvWithDefault("GOOGLE_AUTH_URL", "https://accounts.google.com/o/oauth2/v2/auth")
	config.GoogleTokenURL = getEnvWithDefault("GOOGLE_TOKEN_URL", "https://oauth2.googleapis.com/token")
	config.GoogleUserinfoURL = getEnvWithDefault("GOOGLE_USERINFO_URL", "https://openidconnect.googleapis.com/v1/userinfo")
	config.AllowMockAuth = getEnvBool("ALLOW_MOCK_AUTH", true)

	// GitHub App配置
	config.GitHubAppID = strings.TrimSpace(os.Getenv("GITHUB_APP_ID"))
	config.GitHubAppSlug = strings.TrimSpace(os.Getenv("GITHUB_APP_SLUG"))
	config.GitHubAppPrivateKey = os.Getenv("GITHUB_APP_PRIVATE_KEY")
	config.GitHubAPIToken = strings.TrimSpace(os.Getenv("GITHUB_API_TOKEN"))
	config.GitHubWebhookSecret = os.Getenv("GITHUB_WEBHOOK_SECRET")
	config.GitHubAPIBaseURL = getEnvWithDefault("GITHUB_API_BASE_URL", "https://api.github.com")

	// Billing配置
	config.BarobillLinked = getEnvBool("BAROBILL_LINKED", false)

	// CORS配置
	allowedOrigins := getEnvWithDefault("ALLOWED_ORIGINS", "*")
	if allowedOrigins == "*" {
		config.AllowedOrigins = []string{"*"}
	} else {
		config.AllowedOrigins = strings.Split(allowedOrigins, ",")
	}

	// 环境特定配置
	if config.Environment == "production" {
		// 生产环境强制使用 PostgreSQL
		if config.PostgresDSN != "" {
			config.UseLocalDB = false
		} else {
			fmt.Println("⚠️  WARNING: Production environment using in-memory database. Please configure POSTGRES_DSN")
		}
		// 生产环境关闭调试和 mock 登录
		config.Debug = false
		config.AllowMockAuth = getEnvBool("ALLOW_MOCK_AUTH", false)
	}

	return config
}

// Cached config (initialized once per cold start)
var (
	cachedConfig *Config
	configOnce   sync.Once
)

// GetCached returns the process-wide cached Config.
// It initializes once and reuses it across requests, avoiding
// per-request parsing.
func GetCached() *Config {
	configOnce.Do(func() {
		cachedConfig = LoadConfig()
	})
	return cachedConfig
}

// Validate 验证配置
func (c *Config) Validate() error {
	// 验证端口
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	// 验证应用密钥
	if c.AppSecret == "" || c.AppSecret == "dev-secret-change-me" {
		if c.Environment == "production" {
			return fmt.Errorf("APP_SECRET must be set in production")
		}
		if c.Environment == "development" {
			fmt.Println("⚠️  Using default app secret (not recommended for production)")
		}
	}

	// 验证数据库配置
	if !c.UseLocalDB && c.PostgresDSN == "" {
		return fmt.Errorf("数据库配置不完整：请配置 POSTGRES_DSN 或开启 USE_LOCAL_DB")
	}

	// mock 模式下允许缺省 Google 凭证
	if !c.AllowMockAuth && (c.GoogleClientID == "" || c.GoogleClientSecret == "") {
		return fmt.Errorf("GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET are required when mock auth is disabled")
	}

	return nil
}

// HasGoogleCredentials 是否配置了真实的 Google OAuth 凭证
func (c *Config) HasGoogleCredentials() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// 辅助函数

// getEnvWithDefault 获取环境变量，如果不存在则使用默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool 获取布尔类型的环境变量
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt 获取整数类型的环境变量
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// loadEnvFile 加载 .env 文件到环境变量
func loadEnvFile(filename string) {
	// 检查文件是否存在
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return // 文件不存在，静默返回
	}

	file, err := os.Open(filename)
	if err != nil {
		return // 无法打开文件，静默返回
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// 跳过空行和注释行
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// 解析 KEY=VALUE 格式
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// 移除值两端的引号（如果有）
		if len(value) >= 2 {
			if (strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"")) ||
				(strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'")) {
				value = value[1 : len(value)-1]
			}
		}

		// 只有当环境变量不存在时才设置
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
