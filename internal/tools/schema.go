package tools

// Dialect selects which SQL flavour the schema text and query hints describe.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectBigQuery Dialect = "bigquery"
)

// Kept in step with internal/infra/sqlite/store.go by hand.
const sqliteSchema = `Tables (SQLite):
transactions(
  transaction_id TEXT, document_id TEXT, user_id TEXT,
  date TEXT -- YYYY-MM-DD,
  merchant TEXT, amount REAL, currency TEXT, category TEXT,
  correlation_id TEXT, created_at TEXT)
budgets(budget_id TEXT, user_id TEXT, category TEXT, amount REAL, updated_at TEXT)
Use strftime('%Y-%m', date) to group by month.`

// Kept in step with migrations/bigquery by hand.
const bigquerySchema = `Tables (BigQuery Standard SQL):
transactions(
  transaction_id STRING, document_id STRING, user_id STRING,
  transaction_date DATE, merchant STRING, amount NUMERIC, currency STRING,
  category STRING, correlation_id STRING, created_ts TIMESTAMP)
budgets(budget_id STRING, user_id STRING, category STRING, amount NUMERIC, updated_ts TIMESTAMP)
Use FORMAT_DATE('%Y-%m', transaction_date) to group by month.`

const queryRules = `Rules:
- Only a single SELECT (optionally starting with WITH) is allowed.
- Refer to tables by their bare names: transactions, budgets.
- Every query on transactions must include: user_id = @user_id
Categories: Groceries, Dining, Utilities, Entertainment, Shopping, Gas, Insurance, Health, Education, Subscription, Travel, Other.`

// Schema describes the queryable tables to the decision model.
func Schema(d Dialect) string {
	if d == DialectBigQuery {
		return bigquerySchema + "\n" + queryRules
	}
	return sqliteSchema + "\n" + queryRules
}
