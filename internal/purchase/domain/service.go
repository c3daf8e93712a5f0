package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/coursemart/pkg/db/pagination"
)

type ListPurchasesRequest struct {
	pagination.Pagination
	LearnerID string
}

type ListPurchasesResponse struct {
	pagination.PageInfo
	Purchases []Purchase `json:"purchases"`
}

// Service is the read side of the purchase ledger.
type Service interface {
	Get(ctx context.Context, id snowflake.ID) (*Purchase, error)
	GetForLearner(ctx context.Context, learnerID string, id snowflake.ID) (*Purchase, error)
	ListForLearner(ctx context.Context, req ListPurchasesRequest) (ListPurchasesResponse, error)
}

type CheckoutRequest struct {
	LearnerID string
	CourseID  snowflake.ID
}

type CheckoutResult struct {
	PurchaseID  snowflake.ID `json:"purchase_id"`
	CheckoutURL string       `json:"checkout_url"`
	Amount      int64        `json:"amount"`
	Currency    string       `json:"currency"`
}

// Initiator starts a purchase and its hosted checkout session.
type Initiator interface {
	Initiate(ctx context.Context, req CheckoutRequest) (CheckoutResult, error)
}
