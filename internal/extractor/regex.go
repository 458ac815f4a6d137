package extractor

import (
	"regexp"
	"sync"

	"go.uber.org/zap"
)

var compiled sync.Map // pattern -> *regexp.Regexp

func compileCached(pattern string) (*regexp.Regexp, error) {
	if re, ok := compiled.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	actual, _ := compiled.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp), nil
}

// findRegex returns the first capture group of the first match, or the full
// match when the pattern has no group.
func findRegex(body []byte, pattern string, logger *zap.Logger) (string, bool) {
	regex, err := compileCached(pattern)
	if err != nil {
		logger.Warn("invalid regex pattern", zap.String("pattern", pattern), zap.Error(err))
		return "", false
	}

	match := regex.FindSubmatch(body)
	if match == nil {
		logger.Warn("regex pattern not found", zap.String("pattern", pattern))
		return "", false
	}

	if len(match) > 1 {
		return string(match[1]), true
	}
	return string(match[0]), true
}
