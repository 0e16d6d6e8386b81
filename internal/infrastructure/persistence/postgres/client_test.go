package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"tale-weaver-api/internal/config"
	"tale-weaver-api/internal/domain/repository"
)

func TestBuildDSN(t *testing.T) {
	dsn := BuildDSN(&config.PostgresConfig{
		Host: "db", Port: 5432, User: "tw", Password: "secret", Database: "tales",
	})
	assert.Equal(t, "host=db port=5432 user=tw password=secret dbname=tales sslmode=disable", dsn)

	dsn = BuildDSN(&config.PostgresConfig{Host: "db", Port: 5432, SSLMode: "require"})
	assert.Contains(t, dsn, "sslmode=require")
}

func TestGetTxFromContext(t *testing.T) {
	assert.Nil(t, getTxFromContext(context.Background()))

	tx := &gorm.DB{}
	ctx := context.WithValue(context.Background(), repository.TxKey{}, tx)
	assert.Same(t, tx, getTxFromContext(ctx))
}
