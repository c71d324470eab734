package util

const TimeFormat = "2006-01-02 15:04:05"

const (
	DBDriverMySQL    = "mysql"
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const MimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
