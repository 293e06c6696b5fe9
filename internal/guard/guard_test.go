package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCurriculum_FlagsOutOfRangeIndex(t *testing.T) {
	verified := []string{"https://a.com", "https://b.com"}
	v := CheckCurriculum("See resource [3] for details.", verified)
	require.True(t, v.HasCritical)
	assert.Equal(t, 1, v.CountByType[FindingFabricatedIndex])
}

func TestCheckCurriculum_InRangeIndexIsFine(t *testing.T) {
	verified := []string{"https://a.com", "https://b.com"}
	v := CheckCurriculum("See resource [1] and [2] for details.", verified)
	assert.False(t, v.HasHallucinations)
}

func TestCheckCurriculum_FlagsUnverifiedURL(t *testing.T) {
	verified := []string{"https://trusted.example.com/article"}
	v := CheckCurriculum("Read more at https://fake-source.example.net/story", verified)
	require.True(t, v.HasCritical)
	assert.Equal(t, 1, v.CountByType[FindingFabricatedURL])
}

func TestCheckCurriculum_VerifiedURLCanonicalizesTrailingSlash(t *testing.T) {
	verified := []string{"https://trusted.example.com/article/"}
	v := CheckCurriculum("See https://trusted.example.com/article for more.", verified)
	assert.False(t, v.HasHallucinations)
}

func TestCheckCurriculum_FlagsSuspiciousClaimAsLowSeverity(t *testing.T) {
	v := CheckCurriculum("Studies show that this approach works 90% of the time.", nil)
	assert.True(t, v.HasHallucinations)
	assert.False(t, v.HasCritical)
	assert.Equal(t, 1, v.CountBySeverity[SeverityLow])
}

func TestCheckNumericLeak_PassesWhenValueMatchesToken(t *testing.T) {
	tokens := []EvidenceToken{{ContextKey: "AAPL.price", Value: 192.53}}
	verdict, _ := CheckNumericLeak("AAPL is trading at 192.53 right now.", tokens)
	assert.Equal(t, NumericPass, verdict)
}

func TestCheckNumericLeak_ViolationWhenNoMatchingToken(t *testing.T) {
	tokens := []EvidenceToken{{ContextKey: "AAPL.price", Value: 192.53}}
	verdict, results := CheckNumericLeak("AAPL is trading at 847.12 right now.", tokens)
	assert.Equal(t, NumericViolation, verdict)
	require.NotEmpty(t, results)
}

func TestCheckNumericLeak_ExemptsSmallEnumerationIntegers(t *testing.T) {
	verdict, _ := CheckNumericLeak("There are 3 main steps to follow.", nil)
	assert.Equal(t, NumericExempted, verdict)
}

func TestCheckNumericLeak_ExemptsYearInContext(t *testing.T) {
	verdict, _ := CheckNumericLeak("This law was passed in 1995 after long debate.", nil)
	assert.Equal(t, NumericExempted, verdict)
}

func TestCheckNumericLeak_SkippedWhenNoLiterals(t *testing.T) {
	verdict, results := CheckNumericLeak("There are no numbers in this sentence at all.", nil)
	assert.Equal(t, NumericSkipped, verdict)
	assert.Nil(t, results)
}

func TestCheckNumericLeak_ExemptsVerbatimQuote(t *testing.T) {
	verdict, _ := CheckNumericLeak(`The source literally said "the number is 847102 exactly."`, nil)
	assert.Equal(t, NumericExempted, verdict)
}
