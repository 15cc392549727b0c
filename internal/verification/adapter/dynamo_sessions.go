package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/aelexs/verification-gateway/internal/domain"
	"github.com/aelexs/verification-gateway/internal/dynamo"
)

// sessionDynamoDB is a narrow, consumer-defined interface for DynamoDB
// operations required by the session store.
type sessionDynamoDB interface {
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
}

// sessionItem is the DynamoDB item shape for the sessions table. TTL is the
// epoch-seconds attribute DynamoDB uses to expire the row.
type sessionItem struct {
	SessionID string `dynamodbav:"session_id"`
	AccountID string `dynamodbav:"account_id"`
	TokenID   string `dynamodbav:"jti"`
	Purpose   string `dynamodbav:"purpose"`
	Methods   string `dynamodbav:"methods"`
	CreatedAt string `dynamodbav:"created_at"`
	ExpiresAt string `dynamodbav:"expires_at"`
	TTL       int64  `dynamodbav:"ttl"`
}

// SessionRecord is the audit row written for every issued session.
type SessionRecord struct {
	SessionID string
	AccountID string
	TokenID   string
	Purpose   domain.Purpose
	Channels  []domain.Channel
	CreatedAt time.Time
	ExpiresAt time.Time
}

// DynamoSessionStore records issued sessions in DynamoDB.
type DynamoSessionStore struct {
	db        sessionDynamoDB
	tableName string
}

func NewDynamoSessionStore(db sessionDynamoDB, tableName string) *DynamoSessionStore {
	return &DynamoSessionStore{db: db, tableName: tableName}
}

// Record writes r. Returns domain.ErrAlreadyExists if the session ID is taken.
func (s *DynamoSessionStore) Record(ctx context.Context, r SessionRecord) error {
	ctx, span := tracer.Start(ctx, "dynamo.sessions.record")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "PutItem"),
	)

	methods := make([]string, 0, len(r.Channels))
	for _, ch := range r.Channels {
		methods = append(methods, string(ch))
	}
	av, err := dynamo.MarshalMap(sessionItem{
		SessionID: r.SessionID,
		AccountID: r.AccountID,
		TokenID:   r.TokenID,
		Purpose:   string(r.Purpose),
		Methods:   strings.Join(methods, ","),
		CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt: r.ExpiresAt.UTC().Format(time.RFC3339),
		TTL:       r.ExpiresAt.Unix(),
	})
	if err != nil {
		fail(span, err)
		return fmt.Errorf("session store: marshal session: %w", err)
	}

	condExpr := "attribute_not_exists(session_id)"
	_, err = s.db.PutItem(ctx, &dynamo.PutItemInput{
		TableName:           &s.tableName,
		Item:                av,
		ConditionExpression: &condExpr,
	})
	if err != nil {
		if dynamo.IsConditionalCheckFailed(err) {
			return fmt.Errorf("session store: record: %w", domain.ErrAlreadyExists)
		}
		fail(span, err)
		return fmt.Errorf("session store: record: %w", err)
	}
	return nil
}
