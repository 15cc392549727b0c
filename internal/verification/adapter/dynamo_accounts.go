package adapter

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/aelexs/verification-gateway/internal/domain"
	"github.com/aelexs/verification-gateway/internal/dynamo"
	"github.com/aelexs/verification-gateway/internal/verification/app"
)

// accountDynamoDB is a narrow, consumer-defined interface for DynamoDB
// operations required by the account store. The *dynamodb.Client satisfies
// this interface.
type accountDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	Query(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error)
}

// accountItem is the DynamoDB item shape for the accounts table.
type accountItem struct {
	AccountID     string `dynamodbav:"account_id"`
	Phone         string `dynamodbav:"phone,omitempty"`
	Email         string `dynamodbav:"email,omitempty"`
	PhoneVerified bool   `dynamodbav:"phone_verified"`
	EmailVerified bool   `dynamodbav:"email_verified"`
	WelcomeSentAt string `dynamodbav:"welcome_sent_at,omitempty"`
	UpdatedAt     string `dynamodbav:"updated_at,omitempty"`
}

func (it accountItem) toAccount() *app.Account {
	return &app.Account{
		ID:            it.AccountID,
		Phone:         it.Phone,
		Email:         it.Email,
		PhoneVerified: it.PhoneVerified,
		EmailVerified: it.EmailVerified,
	}
}

// DynamoAccountStore implements app.AccountStore on the accounts table. Phone
// and email are resolved through the phone-index and email-index GSIs.
type DynamoAccountStore struct {
	db         accountDynamoDB
	tableName  string
	phoneIndex string
	emailIndex string
	clock      domain.Clock
}

// NewDynamoAccountStore creates a DynamoAccountStore backed by db.
func NewDynamoAccountStore(db accountDynamoDB, tableName string, clock domain.Clock) *DynamoAccountStore {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &DynamoAccountStore{
		db:         db,
		tableName:  tableName,
		phoneIndex: "phone-index",
		emailIndex: "email-index",
		clock:      clock,
	}
}

// FindByIdentifier queries the GSI for the identifier's channel, then reads
// the full item with a strongly consistent GetItem.
// Returns domain.ErrNotFound when no account owns id.
func (s *DynamoAccountStore) FindByIdentifier(ctx context.Context, id domain.Identifier) (*app.Account, error) {
	ctx, span := tracer.Start(ctx, "dynamo.accounts.find")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "dynamodb"))

	attr, index := "phone", s.phoneIndex
	if id.Channel() == domain.ChannelEmail {
		attr, index = "email", s.emailIndex
	}
	keyExpr := attr + " = :v"

	queryOut, err := s.db.Query(ctx, &dynamo.QueryInput{
		TableName:              &s.tableName,
		IndexName:              &index,
		KeyConditionExpression: &keyExpr,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":v": &dynamo.AttributeValueMemberS{Value: id.String()},
		},
	})
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("account store: find by %s query: %w", attr, err)
	}
	if len(queryOut.Items) == 0 {
		return nil, fmt.Errorf("account store: find by %s: %w", attr, domain.ErrNotFound)
	}

	var projected struct {
		AccountID string `dynamodbav:"account_id"`
	}
	if err := dynamo.UnmarshalMap(queryOut.Items[0], &projected); err != nil {
		return nil, fmt.Errorf("account store: unmarshal gsi projection: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("account store: find by %s: %w", attr, err)
	}

	return s.getByID(ctx, projected.AccountID)
}

func (s *DynamoAccountStore) getByID(ctx context.Context, accountID string) (*app.Account, error) {
	out, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"account_id": &dynamo.AttributeValueMemberS{Value: accountID},
		},
		ConsistentRead: dynamo.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("account store: get by id: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("account store: get by id: %w", domain.ErrNotFound)
	}

	var item accountItem
	if err := dynamo.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("account store: unmarshal account: %w", err)
	}
	return item.toAccount(), nil
}

// MarkVerified sets the channel's verified flag and returns the updated account.
// Returns domain.ErrNotFound if the account no longer exists.
func (s *DynamoAccountStore) MarkVerified(ctx context.Context, accountID string, channel domain.Channel) (*app.Account, error) {
	ctx, span := tracer.Start(ctx, "dynamo.accounts.mark_verified")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("otp.channel", string(channel)),
	)

	flag := "phone_verified"
	if channel == domain.ChannelEmail {
		flag = "email_verified"
	}
	update := dynamo.Set(dynamo.Name(flag), dynamo.Value(true)).
		Set(dynamo.Name("updated_at"), dynamo.Value(s.clock.Now().UTC().Format(time.RFC3339)))
	expr, err := dynamo.NewExpressionBuilder().
		WithUpdate(update).
		WithCondition(dynamo.AttributeExists(dynamo.Name("account_id"))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("account store: build update: %w", err)
	}

	out, err := s.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"account_id": &dynamo.AttributeValueMemberS{Value: accountID},
		},
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              dynamo.ReturnAllNew,
	})
	if err != nil {
		if dynamo.IsConditionalCheckFailed(err) {
			return nil, fmt.Errorf("account store: mark verified: %w", domain.ErrNotFound)
		}
		fail(span, err)
		return nil, fmt.Errorf("account store: mark verified: %w", err)
	}

	var item accountItem
	if err := dynamo.UnmarshalMap(out.Attributes, &item); err != nil {
		return nil, fmt.Errorf("account store: unmarshal account: %w", err)
	}
	return item.toAccount(), nil
}

// ClaimWelcome stamps welcome_sent_at if it is not already set. The
// conditional write makes the claim succeed for exactly one caller.
func (s *DynamoAccountStore) ClaimWelcome(ctx context.Context, accountID string, at time.Time) (bool, error) {
	ctx, span := tracer.Start(ctx, "dynamo.accounts.claim_welcome")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "dynamodb"))

	cond := dynamo.AttributeExists(dynamo.Name("account_id")).
		And(dynamo.AttributeNotExists(dynamo.Name("welcome_sent_at")))
	expr, err := dynamo.NewExpressionBuilder().
		WithUpdate(dynamo.Set(dynamo.Name("welcome_sent_at"), dynamo.Value(at.UTC().Format(time.RFC3339)))).
		WithCondition(cond).
		Build()
	if err != nil {
		return false, fmt.Errorf("account store: build claim: %w", err)
	}

	_, err = s.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"account_id": &dynamo.AttributeValueMemberS{Value: accountID},
		},
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if dynamo.IsConditionalCheckFailed(err) {
			return false, nil
		}
		fail(span, err)
		return false, fmt.Errorf("account store: claim welcome: %w", err)
	}
	return true, nil
}
