package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/smallbiznis/finvo/internal/customer/domain"
	"github.com/smallbiznis/finvo/internal/transfermatch/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type repo struct{}

type Params struct {
	fx.In
}

func Provide(p Params) domain.Repository {
	return &repo{}
}

func (r *repo) LoadCustomers(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) (map[snowflake.ID]domain.CandidateCustomer, error) {
	out := make(map[snowflake.ID]domain.CandidateCustomer, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var customers []customerdomain.Customer
	err := db.WithContext(ctx).Raw(`
		SELECT id, org_id, name, email, billing_name, created_at, updated_at
		FROM customers
		WHERE org_id = ? AND id IN ?
	`, orgID, ids).Scan(&customers).Error
	if err != nil {
		return nil, err
	}

	for _, c := range customers {
		cand := domain.CandidateCustomer{
			ID:          c.ID,
			Name:        c.Name,
			BillingName: c.BillingName,
		}
		if email := strings.TrimSpace(c.Email); email != "" {
			cand.Emails = append(cand.Emails, email)
		}
		out[c.ID] = cand
	}

	var contacts []customerdomain.ContactEmail
	err = db.WithContext(ctx).Raw(`
		SELECT id, org_id, customer_id, email, created_at
		FROM customer_contact_emails
		WHERE org_id = ? AND customer_id IN ?
	`, orgID, ids).Scan(&contacts).Error
	if err != nil {
		return nil, err
	}

	for _, contact := range contacts {
		cand, ok := out[contact.CustomerID]
		if !ok {
			continue
		}
		cand.Emails = append(cand.Emails, contact.Email)
		out[contact.CustomerID] = cand
	}
	return out, nil
}
