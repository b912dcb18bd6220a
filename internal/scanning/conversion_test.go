package scanning

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)
	return img
}

var _ = Describe("prepareImageData", func() {
	var (
		input       []byte
		contentType string
		out         []byte
		err         error
	)

	JustBeforeEach(func() {
		out, err = prepareImageData(input, contentType)
	})

	When("the image is already a PNG", func() {
		BeforeEach(func() {
			var buf bytes.Buffer
			Expect(png.Encode(&buf, testImage())).To(Succeed())
			input = buf.Bytes()
			contentType = "image/png"
		})

		It("returns it unchanged", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(input))
		})
	})

	When("the image is a JPEG", func() {
		BeforeEach(func() {
			var buf bytes.Buffer
			Expect(jpeg.Encode(&buf, testImage(), nil)).To(Succeed())
			input = buf.Bytes()
			contentType = " IMAGE/JPEG "
		})

		It("converts it to PNG", func() {
			Expect(err).NotTo(HaveOccurred())
			_, format, decodeErr := image.DecodeConfig(bytes.NewReader(out))
			Expect(decodeErr).NotTo(HaveOccurred())
			Expect(format).To(Equal("png"))
		})
	})

	When("the data is not an image", func() {
		BeforeEach(func() {
			input = []byte("definitely not an image")
			contentType = "image/jpeg"
		})

		It("reports a conversion failure", func() {
			Expect(errors.Is(err, ErrImageConversionFailed)).To(BeTrue())
		})
	})

	When("a PNG content type carries garbage", func() {
		BeforeEach(func() {
			input = []byte("garbage")
			contentType = "image/png"
		})

		It("reports a conversion failure", func() {
			Expect(errors.Is(err, ErrImageConversionFailed)).To(BeTrue())
		})
	})

	When("the image is empty", func() {
		BeforeEach(func() {
			input = nil
			contentType = "image/png"
		})

		It("reports a conversion failure", func() {
			Expect(errors.Is(err, ErrImageConversionFailed)).To(BeTrue())
		})
	})
})

var _ = Describe("isHEICFormat", func() {
	It("detects the ftyp heic brand", func() {
		data := append([]byte{0, 0, 0, 24}, []byte("ftypheic0000")...)
		Expect(isHEICFormat(data)).To(BeTrue())
	})

	It("rejects short data", func() {
		Expect(isHEICFormat([]byte("ftyp"))).To(BeFalse())
	})
})
