package scanning

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ModelUnavailableError", func() {
	It("gives each reason its own user-facing message", func() {
		messages := map[string]bool{}
		for _, reason := range []UnavailableReason{ReasonFeatureDisabled, ReasonDeviceIneligible, ReasonModelWarmingUp, ReasonOther} {
			messages[(&ModelUnavailableError{Reason: reason}).Error()] = true
		}
		Expect(messages).To(HaveLen(4))
	})

	It("does not leak the cause into the message", func() {
		err := &ModelUnavailableError{Reason: ReasonModelWarmingUp, Cause: errors.New("503 from upstream")}
		Expect(err.Error()).NotTo(ContainSubstring("503"))
		Expect(errors.Unwrap(err)).To(MatchError("503 from upstream"))
	})

	It("names each reason", func() {
		Expect(ReasonFeatureDisabled.String()).To(Equal("feature_disabled"))
		Expect(ReasonDeviceIneligible.String()).To(Equal("device_ineligible"))
		Expect(ReasonModelWarmingUp.String()).To(Equal("model_warming_up"))
		Expect(ReasonOther.String()).To(Equal("other"))
	})
})

var _ = Describe("ParsingFailedError", func() {
	It("includes the detail", func() {
		Expect((&ParsingFailedError{Detail: "bad json"}).Error()).To(Equal("Could not parse the bill: bad json"))
	})
})

var _ = Describe("Disabled", func() {
	It("is never available", func() {
		Expect(Available(context.Background(), Disabled{})).To(BeFalse())
	})

	It("reports the feature as disabled", func() {
		var ue *ModelUnavailableError
		_, err := Disabled{}.Parse(context.Background(), "Burger 12.99")
		Expect(errors.As(err, &ue)).To(BeTrue())
		Expect(ue.Reason).To(Equal(ReasonFeatureDisabled))
	})
})
