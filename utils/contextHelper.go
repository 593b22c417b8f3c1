package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/appctx"
)

var (
	ContextKeyPartyId        = appctx.ContextKeyPartyId
	ContextKeyPartyRole      = appctx.ContextKeyPartyRole
	ContextKeyApprovalStatus = appctx.ContextKeyApprovalStatus
	ContextKeyCorrelationId  = appctx.ContextKeyCorrelationId

	ContextKeyIsAdmin = appctx.ContextKeyIsAdmin
)

func GetPartyIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyPartyId)
}

func GetPartyRoleFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyPartyRole)
}

func GetApprovalStatusFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyApprovalStatus)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func GetIsAdminFromContext(ctx context.Context) (bool, bool) {
	return appctx.GetBool(ctx, ContextKeyIsAdmin)
}

func SetPartyIdInContext(ctx context.Context, partyId int) context.Context {
	return appctx.Set(ctx, ContextKeyPartyId, partyId)
}

func SetPartyRoleInContext(ctx context.Context, role string) context.Context {
	return appctx.Set(ctx, ContextKeyPartyRole, role)
}

func SetApprovalStatusInContext(ctx context.Context, status string) context.Context {
	return appctx.Set(ctx, ContextKeyApprovalStatus, status)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func SetIsAdminInContext(ctx context.Context, isAdmin bool) context.Context {
	return appctx.Set(ctx, ContextKeyIsAdmin, isAdmin)
}
