package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// ForJob returns a logger named after a queue job id, so worker output for
// inbox.poll, inbox.deadletter.retry and friends is attributable to the job
// that produced it. Dots in the id become the provider's logger name as-is.
func ForJob(provider glog.LoggerProvider, logger glog.Logger, jobID string) glog.Logger {
	name := strings.TrimSpace(jobID)
	if name == "" {
		name = "jobs"
	}
	if provider != nil {
		if named := provider.GetLogger(name); named != nil {
			return glog.Ensure(named)
		}
	}
	_, resolved := glog.Resolve(name, nil, logger)
	return glog.Ensure(resolved)
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves glog logger/provider then returns equivalent go-job adapters.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}
