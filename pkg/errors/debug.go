package errors

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump is the log-only view of an error chain. It may carry driver
// detail and must never be written to a client.
type ErrorDump struct {
	TopMessage       string   `json:"top_message"`
	Code             Code     `json:"code,omitempty"`
	Retryable        bool     `json:"retryable"`
	DeadlineExceeded bool     `json:"deadline_exceeded,omitempty"`
	Stage            string   `json:"stage,omitempty"`
	Chain            []string `json:"chain,omitempty"`

	PG *PostgresDetail `json:"pg,omitempty"`
}

// PostgresDetail holds the server diagnostics from pgx or lib/pq.
type PostgresDetail struct {
	Code       string `json:"code"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Column     string `json:"column,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Message    string `json:"message,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{
		TopMessage:       err.Error(),
		DeadlineExceeded: errors.Is(err, context.DeadlineExceeded),
		PG:               postgresDetail(err),
	}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
		d.Retryable = Retryable(err)
		d.Stage = stageOf(typed)
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	return d
}

// Fields flattens the dump for structured loggers.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.TopMessage,
		"error_code":  d.Code,
		"error_chain": d.Chain,
		"retryable":   d.Retryable,
	}
	if d.DeadlineExceeded {
		fields["deadline_exceeded"] = true
	}
	if d.Stage != "" {
		fields["stage"] = d.Stage
	}
	if d.PG != nil {
		fields["pg_code"] = d.PG.Code
		fields["pg_constraint"] = d.PG.Constraint
		fields["pg_table"] = d.PG.Table
		fields["pg_column"] = d.PG.Column
		fields["pg_detail"] = d.PG.Detail
		fields["pg_message"] = d.PG.Message
	}
	return fields
}

func stageOf(e *Error) string {
	switch details := e.Details().(type) {
	case map[string]any:
		if stage, ok := details["stage"].(string); ok {
			return stage
		}
	case map[string]string:
		return details["stage"]
	}
	return ""
}

func postgresDetail(err error) *PostgresDetail {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return &PostgresDetail{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &PostgresDetail{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}
	}
	return nil
}
