package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6381"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	QueuePrefix   string `envconfig:"QUEUE_PREFIX" default:"hn"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"3000"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// Hacker-News-Feed
	HNBaseURL        string        `envconfig:"HN_BASE_URL" default:"https://hacker-news.firebaseio.com/v0"`
	HNStoryLimit     int           `envconfig:"HN_STORY_LIMIT" default:"10"`
	HNCandidateLimit int           `envconfig:"HN_CANDIDATE_LIMIT" default:"30"`
	HNMaxAttempts    int           `envconfig:"HN_MAX_ATTEMPTS" default:"3"`
	HNRetryBase      time.Duration `envconfig:"HN_RETRY_BASE" default:"500ms"`
	HNRequestTimeout time.Duration `envconfig:"HN_REQUEST_TIMEOUT" default:"10s"`

	// Kommentarbaum-Harvesting
	HarvestNodeDelay   time.Duration `envconfig:"HARVEST_NODE_DELAY" default:"50ms"`
	HarvestParallelism int           `envconfig:"HARVEST_PARALLELISM" default:"1"`
	HarvestMaxDepth    int           `envconfig:"HARVEST_MAX_DEPTH" default:"50"`

	// Artikel-Extraktion
	ExtractorTool    string        `envconfig:"EXTRACTOR_TOOL" default:"trafilatura"`
	ExtractorTimeout time.Duration `envconfig:"EXTRACTOR_TIMEOUT" default:"15s"`
	ArticleMaxChars  int           `envconfig:"ARTICLE_MAX_CHARS" default:"15000"`
	FetchTimeout     time.Duration `envconfig:"FETCH_TIMEOUT" default:"20s"`

	// Map-Reduce
	ChunkSize         int           `envconfig:"CHUNK_SIZE" default:"50"`
	MapConcurrency    int           `envconfig:"MAP_CONCURRENCY" default:"10"`
	ReduceConcurrency int           `envconfig:"REDUCE_CONCURRENCY" default:"3"`
	MapAttempts       int           `envconfig:"MAP_ATTEMPTS" default:"5"`
	MapBackoff        time.Duration `envconfig:"MAP_BACKOFF" default:"5s"`
	ReduceAttempts    int           `envconfig:"REDUCE_ATTEMPTS" default:"3"`
	ReduceBackoff     time.Duration `envconfig:"REDUCE_BACKOFF" default:"10s"`
	ManifestDelay     time.Duration `envconfig:"MANIFEST_DELAY" default:"5m"`
	MinSignals        int           `envconfig:"MIN_SIGNALS" default:"0"`
	JobVisibility     time.Duration `envconfig:"JOB_VISIBILITY" default:"2m"`
	JobTimeout        time.Duration `envconfig:"JOB_TIMEOUT" default:"10m"`
	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"1s"`

	// Sprachmodelle: Gemini primär, OpenAI-kompatibel als Fallback
	GeminiAPIKey         string        `envconfig:"GEMINI_API_KEY"`
	GeminiBaseURL        string        `envconfig:"GEMINI_BASE_URL"`
	GeminiModel          string        `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	GeminiEmbeddingModel string        `envconfig:"GEMINI_EMBEDDING_MODEL" default:"gemini-embedding-001"`
	EmbeddingDimensions  int           `envconfig:"EMBEDDING_DIMENSIONS" default:"3072"`
	OpenAIBaseURL        string        `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIAPIKey         string        `envconfig:"OPENAI_API_KEY"`
	OpenAIModel          string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIEmbeddingModel string        `envconfig:"OPENAI_EMBEDDING_MODEL" default:"text-embedding-3-large"`
	LLMTimeout           time.Duration `envconfig:"LLM_TIMEOUT" default:"90s"`
	MockLLM              bool          `envconfig:"MOCK_LLM" default:"false"`

	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 * * * *"`

	// Optionales Rohdaten-Archiv (S3-kompatibel)
	ArchiveS3URL    string `envconfig:"ARCHIVE_S3_URL"`
	ArchiveS3Region string `envconfig:"ARCHIVE_S3_REGION" default:"us-east-1"`
	ArchiveS3Key    string `envconfig:"ARCHIVE_S3_KEY"`
	ArchiveS3Secret string `envconfig:"ARCHIVE_S3_SECRET"`
	ArchiveS3Bucket string `envconfig:"ARCHIVE_S3_BUCKET"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// ArchiveEnabled meldet, ob Roh-Snapshots nach S3 archiviert werden sollen.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveS3Bucket != ""
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
