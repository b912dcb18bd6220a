package receipt

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(filepath.Join(tmpDir, "images"))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			name  string
			saved string
			err   error
		)

		BeforeEach(func() {
			name = "bill.png"
		})

		JustBeforeEach(func() {
			saved, err = storage.Save(name, []byte("png bytes"))
		})

		It("writes the image into the storage directory", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(saved).To(Equal("bill.png"))
			Expect(filepath.Join(tmpDir, "images", "bill.png")).To(BeAnExistingFile())
		})

		When("the name points outside the directory", func() {
			BeforeEach(func() {
				name = "../escape.png"
			})

			It("refuses it", func() {
				Expect(err).To(MatchError(ErrInvalidPath))
				Expect(filepath.Join(tmpDir, "escape.png")).NotTo(BeAnExistingFile())
			})
		})

		When("the name is empty", func() {
			BeforeEach(func() {
				name = ""
			})

			It("refuses it", func() {
				Expect(err).To(MatchError(ErrInvalidPath))
			})
		})
	})

	Describe("Get", func() {
		It("returns the saved bytes", func() {
			_, err := storage.Save("bill.png", []byte("png bytes"))
			Expect(err).NotTo(HaveOccurred())

			data, err := storage.Get("bill.png")
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("png bytes"))
		})

		It("returns ErrNotFound for a missing image", func() {
			_, err := storage.Get("missing.png")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("Delete", func() {
		It("removes the image", func() {
			_, err := storage.Save("bill.png", []byte("png bytes"))
			Expect(err).NotTo(HaveOccurred())

			Expect(storage.Delete("bill.png")).To(Succeed())
			Expect(filepath.Join(tmpDir, "images", "bill.png")).NotTo(BeAnExistingFile())
		})

		It("ignores a missing image", func() {
			Expect(storage.Delete("missing.png")).To(Succeed())
		})
	})
})
