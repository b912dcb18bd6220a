package scanning

import (
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/api/googleapi"
)

var _ = Describe("classifyGeminiError", func() {
	reasonOf := func(err error) UnavailableReason {
		var ue *ModelUnavailableError
		Expect(errors.As(err, &ue)).To(BeTrue())
		return ue.Reason
	}

	It("treats a missing model as ineligible", func() {
		Expect(reasonOf(classifyGeminiError(&googleapi.Error{Code: http.StatusNotFound}))).To(Equal(ReasonDeviceIneligible))
	})

	It("treats a forbidden model as ineligible", func() {
		Expect(reasonOf(classifyGeminiError(&googleapi.Error{Code: http.StatusForbidden}))).To(Equal(ReasonDeviceIneligible))
	})

	It("treats overload as warming up", func() {
		Expect(reasonOf(classifyGeminiError(&googleapi.Error{Code: http.StatusServiceUnavailable}))).To(Equal(ReasonModelWarmingUp))
		Expect(reasonOf(classifyGeminiError(&googleapi.Error{Code: http.StatusTooManyRequests}))).To(Equal(ReasonModelWarmingUp))
	})

	It("treats anything else as a parsing failure", func() {
		var pf *ParsingFailedError
		Expect(errors.As(classifyGeminiError(errors.New("boom")), &pf)).To(BeTrue())
		Expect(pf.Detail).To(Equal("boom"))
	})
})

var _ = Describe("NewGemini", func() {
	It("requires an api key", func() {
		_, err := NewGemini("", "")
		Expect(err).To(MatchError("gemini api key is required"))
	})
})
