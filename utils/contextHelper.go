package utils

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/txsummary/appctx"
)

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyMerchantId    = appctx.ContextKeyMerchantId
	ContextKeyRunId         = appctx.ContextKeyRunId
	ContextKeyJobName       = appctx.ContextKeyJobName
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func GetMerchantIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyMerchantId)
}

func GetRunIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyRunId)
}

func GetJobNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyJobName)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func SetMerchantIdInContext(ctx context.Context, merchantId string) context.Context {
	return appctx.Set(ctx, ContextKeyMerchantId, merchantId)
}

func SetRunIdInContext(ctx context.Context, runId string) context.Context {
	return appctx.Set(ctx, ContextKeyRunId, runId)
}

func SetJobNameInContext(ctx context.Context, jobName string) context.Context {
	return appctx.Set(ctx, ContextKeyJobName, jobName)
}

// LogFieldsFromContext collects the request/run identifiers carried by ctx.
func LogFieldsFromContext(ctx context.Context) logrus.Fields {
	fields := logrus.Fields{}
	if v, ok := GetCorrelationIdFromContext(ctx); ok && v != "" {
		fields["correlationId"] = v
	}
	if v, ok := GetRunIdFromContext(ctx); ok && v != "" {
		fields["runId"] = v
	}
	if v, ok := GetJobNameFromContext(ctx); ok && v != "" {
		fields["job"] = v
	}
	if v, ok := GetMerchantIdFromContext(ctx); ok && v != "" {
		fields["merchantId"] = v
	}
	return fields
}
