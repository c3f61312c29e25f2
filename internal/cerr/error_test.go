package cerr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := New(ToolRateLimited, "too many calls", nil)
	assert.Equal(t, "[tool_rate_limited] too many calls", err.Error())

	wrapped := New(WebSearchFailed, "search failed", errors.New("status 502"))
	assert.Equal(t, "[web_search_failed] search failed: status 502", wrapped.Error())
}

func TestIsCode_FollowsChain(t *testing.T) {
	inner := New(ApprovalRequired, "needs approval", nil)
	outer := fmt.Errorf("book: %w", New(AccomBookingFailed, "booking blocked", inner))

	assert.True(t, IsCode(outer, AccomBookingFailed))
	assert.True(t, IsCode(outer, ApprovalRequired))
	assert.False(t, IsCode(outer, ApprovalDenied))
	assert.False(t, IsCode(errors.New("plain"), Unknown))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, PlanNotFound, CodeOf(fmt.Errorf("x: %w", New(PlanNotFound, "gone", nil))))
	assert.Equal(t, Canceled, CodeOf(context.Canceled))
	assert.Equal(t, Unknown, CodeOf(errors.New("boom")))
}

func TestWrap_KeepsExistingCode(t *testing.T) {
	orig := New(FlightSearchRateLimited, "slow down", nil)
	assert.Same(t, orig, Wrap(orig, FlightSearchFailed, "ignored"))
	assert.Equal(t, FlightSearchFailed, Wrap(errors.New("x"), FlightSearchFailed, "failed").Code)
	assert.Nil(t, Wrap(nil, Unknown, ""))
}

func TestCode_Family(t *testing.T) {
	assert.Equal(t, "accom", AccomSearchRateLimited.Family())
	assert.Equal(t, "web", WebSearchNotConfigured.Family())
	assert.True(t, AccomSearchRateLimited.RateLimited())
	assert.False(t, ApprovalRequired.RateLimited())
}

func TestCode_HTTPCode(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, WeatherRateLimited.HTTPCode())
	assert.Equal(t, http.StatusAccepted, ApprovalRequired.HTTPCode())
	assert.Equal(t, http.StatusForbidden, ApprovalDenied.HTTPCode())
	assert.Equal(t, http.StatusConflict, ApprovalConflict.HTTPCode())
	assert.Equal(t, http.StatusBadRequest, RouterEmptyMessage.HTTPCode())
	assert.Equal(t, http.StatusInternalServerError, Unknown.HTTPCode())
}
