package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/config"
	"bitbucket.org/mmdatafocus/pharmtrace_backend/utils"
	"gorm.io/gorm"
)

// Party is any supply-chain participant account. Role is immutable after
// registration; approval status is the only admin-mutable field.
type Party struct {
	ID            int            `gorm:"primary_key" json:"id"`
	Name          string         `gorm:"size:100;not null" json:"name" binding:"required"`
	Email         string         `gorm:"size:100;not null;unique" json:"email" binding:"required"`
	Phone         string         `gorm:"size:20;not null" json:"phone" binding:"required"`
	Password      string         `gorm:"size:255;not null" json:"-"`
	Role          PartyRole      `gorm:"type:enum('admin','manufacturer','distributor','wholesaler','retailer','pharmacy','public');not null;default:'public'" json:"role"`
	WalletAddress string         `gorm:"size:64" json:"wallet_address"`
	Organization  string         `gorm:"size:255" json:"organization"`
	Location      string         `gorm:"size:255" json:"location"`
	Status        ApprovalStatus `gorm:"type:enum('pending','approved','rejected');not null;default:'pending'" json:"status"`
	Documents     []*Document    `gorm:"foreignKey:PartyId" json:"documents"`
	LastLogin     *time.Time     `json:"last_login"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewParty struct {
	Name          string         `json:"name" binding:"required"`
	Email         string         `json:"email" binding:"required"`
	Phone         string         `json:"phone" binding:"required"`
	Password      string         `json:"password" binding:"required"`
	Role          PartyRole      `json:"role" binding:"required"`
	WalletAddress string         `json:"wallet_address"`
	Organization  string         `json:"organization"`
	Location      string         `json:"location"`
	Documents     []*NewDocument `json:"documents"`
}

type LoginInfo struct {
	Token  string         `json:"token"`
	Name   string         `json:"name"`
	Role   PartyRole      `json:"role"`
	Status ApprovalStatus `json:"status"`
}

/*
caches:
	Party:$id
	PendingParties
*/

func (party Party) RemoveInstanceRedis() error {
	return config.RemoveRedisKey("Party:" + fmt.Sprint(party.ID))
}

func (party Party) RemoveAllRedis() error {
	return config.RemoveRedisKey("PendingParties")
}

func (result *Party) PrepareGive() {
	result.Password = ""
}

// CanHoldCustody reports whether this party may appear as a holder in the
// custody ledger: approved, and a chain role (not admin/public).
func (party *Party) CanHoldCustody() bool {
	if party.Status != ApprovalStatusApproved {
		return false
	}
	switch party.Role {
	case PartyRoleManufacturer, PartyRoleDistributor, PartyRoleWholesaler,
		PartyRoleRetailer, PartyRolePharmacy:
		return true
	}
	return false
}

func (input *NewParty) validate() error {
	if !input.Role.Valid() {
		return utils.NewValidationError("invalid party role %q", input.Role)
	}
	if !utils.IsValidEmail(input.Email) {
		return utils.NewValidationError("invalid email address")
	}
	if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
		return utils.NewValidationError("invalid phone number: %s", err.Error())
	}
	if len(input.Password) < 8 {
		return utils.NewValidationError("password must be at least 8 characters")
	}
	return nil
}

// RegisterParty creates an account. Public and admin accounts are
// auto-approved; chain roles stay pending until an admin approves their
// credentials.
func RegisterParty(ctx context.Context, input *NewParty) (*Party, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	if err := input.validate(); err != nil {
		return nil, err
	}

	var count int64
	if err := db.WithContext(ctx).Model(&Party{}).Where("email = ?", input.Email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, utils.NewConflictError([]string{input.Email}, "party with this email already exists")
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	status := ApprovalStatusPending
	if input.Role == PartyRolePublic || input.Role == PartyRoleAdmin {
		status = ApprovalStatusApproved
	}

	documents, err := mapNewDocuments(input.Documents)
	if err != nil {
		return nil, err
	}

	party := Party{
		Name:          input.Name,
		Email:         strings.ToLower(strings.TrimSpace(input.Email)),
		Phone:         input.Phone,
		Password:      string(hashed),
		Role:          input.Role,
		WalletAddress: input.WalletAddress,
		Organization:  input.Organization,
		Location:      input.Location,
		Status:        status,
		Documents:     documents,
	}

	if err := db.WithContext(ctx).Create(&party).Error; err != nil {
		config.LogError(logger, "party.go", "RegisterParty", "create", input.Email, err)
		return nil, err
	}

	if err := party.RemoveAllRedis(); err != nil {
		config.LogError(logger, "party.go", "RegisterParty", "cache invalidate", party.ID, err)
	}
	party.PrepareGive()
	return &party, nil
}

// Login verifies credentials and issues a JWT. Pending/rejected chain parties
// may log in but their token carries the approval status, and custody
// operations will refuse them.
func Login(ctx context.Context, email, password string) (*LoginInfo, error) {
	db := config.GetDB()

	var party Party
	err := db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&party).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("no account for this email")
		}
		return nil, err
	}

	if err := utils.ComparePassword(party.Password, password); err != nil {
		return nil, utils.NewValidationError("incorrect password")
	}

	token, err := utils.JwtGenerate(party.ID, string(party.Role), string(party.Status))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := db.WithContext(ctx).Model(&party).Update("LastLogin", &now).Error; err != nil {
		config.LogError(config.GetLogger(), "party.go", "Login", "stamp last login", party.ID, err)
	}

	return &LoginInfo{
		Token:  token,
		Name:   party.Name,
		Role:   party.Role,
		Status: party.Status,
	}, nil
}

// GetParty fetches by id with a redis read-through cache.
func GetParty(ctx context.Context, id int) (*Party, error) {
	cacheKey := "Party:" + fmt.Sprint(id)

	var party Party
	if found, err := config.GetRedisObject(cacheKey, &party); err == nil && found {
		return &party, nil
	}

	db := config.GetDB()
	err := db.WithContext(ctx).First(&party, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("party %d not found", id)
		}
		return nil, err
	}
	party.PrepareGive()

	if err := config.SetRedisObject(cacheKey, party, utils.GetCacheLifespan()); err != nil {
		config.LogError(config.GetLogger(), "party.go", "GetParty", "cache set", id, err)
	}
	return &party, nil
}

// GetCustodyParty fetches a party and checks it may hold custody as the
// asserted role.
func GetCustodyParty(ctx context.Context, id int, role HolderRole) (*Party, error) {
	party, err := GetParty(ctx, id)
	if err != nil {
		return nil, err
	}
	if !party.CanHoldCustody() {
		return nil, utils.NewConflictError([]string{fmt.Sprint(id)},
			"party %d is not an approved supply-chain participant", id)
	}
	if string(party.Role) != string(role) {
		return nil, utils.NewConflictError([]string{fmt.Sprint(id)},
			"party %d is registered as %s, not %s", id, party.Role, role)
	}
	return party, nil
}

func GetPendingParties(ctx context.Context) ([]*Party, error) {
	db := config.GetDB()
	var parties []*Party
	err := db.WithContext(ctx).
		Preload("Documents").
		Where("status = ?", ApprovalStatusPending).
		Order("created_at ASC").
		Find(&parties).Error
	if err != nil {
		return nil, err
	}
	for _, p := range parties {
		p.PrepareGive()
	}
	return parties, nil
}

// ApproveParty / RejectParty: admin-only decisions, role stays immutable.
func ApproveParty(ctx context.Context, id int) (*Party, error) {
	return decideParty(ctx, id, ApprovalStatusApproved)
}

func RejectParty(ctx context.Context, id int) (*Party, error) {
	return decideParty(ctx, id, ApprovalStatusRejected)
}

func decideParty(ctx context.Context, id int, decision ApprovalStatus) (*Party, error) {
	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); !isAdmin {
		return nil, utils.NewValidationError("only admins may approve or reject parties")
	}

	db := config.GetDB()
	var party Party
	err := db.WithContext(ctx).First(&party, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("party %d not found", id)
		}
		return nil, err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Model(&party).Update("Status", decision).Error; err != nil {
			return err
		}
		if decision != ApprovalStatusRejected {
			return nil
		}
		// A rejected registration keeps no credentials on file.
		var documents []Document
		if err := tx.WithContext(ctx).Where("party_id = ?", id).Find(&documents).Error; err != nil {
			return err
		}
		for i := range documents {
			if err := documents[i].Delete(tx, ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	party.Status = decision

	logger := config.GetLogger()
	if err := party.RemoveInstanceRedis(); err != nil {
		config.LogError(logger, "party.go", "decideParty", "cache invalidate", id, err)
	}
	if err := party.RemoveAllRedis(); err != nil {
		config.LogError(logger, "party.go", "decideParty", "cache invalidate", id, err)
	}

	party.PrepareGive()
	return &party, nil
}
