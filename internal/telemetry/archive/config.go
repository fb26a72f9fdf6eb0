package archive

// PoolConfig holds connection pool settings for the archive database.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
}

// DatabaseConfig holds the connection settings for one named archive
// database, decoded from the application's database config map.
type DatabaseConfig struct {
	// Type selects the dialect: "sqlite", "mysql" or "postgres".
	Type     string     `yaml:"type"`
	Host     string     `yaml:"host"`
	Port     int        `yaml:"port"`
	Database string     `yaml:"database"`
	Username string     `yaml:"username"`
	Password string     `yaml:"password"`
	SSLMode  string     `yaml:"sslmode"`
	Pool     PoolConfig `yaml:"pool"`
}
