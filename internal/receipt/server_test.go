package receipt

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/splyt/internal/ingest"
	"github.com/zombor/splyt/internal/scanning"
)

var _ = Describe("Server", func() {
	var (
		text        *mockText
		bills       *mockBills
		storage     *mockStorage
		service     *Service
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		text = &mockText{text: "Burger 12.00\nFries 4.00"}
		bills = &mockBills{availErr: &scanning.ModelUnavailableError{Reason: scanning.ReasonFeatureDisabled}}
		storage = newMockStorage()
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		db, err := NewBoltDB(filepath.Join(GinkgoT().TempDir(), "test.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close)

		service = NewServiceWithDeps(db, storage, Extractors{Text: text, Bills: bills}, time.Minute,
			&mockIDGenerator{}, &mockTimeSource{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)})
		server := NewServerWithMux(service, auth, http.NewServeMux())

		ghttpServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(".*"), server.ServeHTTP)
		}
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	do := func(method, path string, body any) *http.Response {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(data)
		}
		req, err := http.NewRequest(method, ghttpServer.URL()+path, reader)
		Expect(err).NotTo(HaveOccurred())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if auth.Username != "" {
			req.SetBasicAuth(auth.Username, auth.Password)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	decode := func(resp *http.Response, v any) {
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	upload := func(filename, contentType string, data []byte) *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
		if contentType != "" {
			header.Set("Content-Type", contentType)
		}
		part, err := mw.CreatePart(header)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(mw.Close()).To(Succeed())

		resp, err := http.Post(ghttpServer.URL()+"/api/receipts", mw.FormDataContentType(), &buf)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	scan := func() string {
		resp := upload("bill.png", "image/png", []byte("image"))
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		var body struct {
			Receipt Receipt `json:"receipt"`
		}
		decode(resp, &body)
		return body.Receipt.ID
	}

	Describe("POST /api/receipts", func() {
		It("creates a receipt and returns the ingestion state", func() {
			resp := upload("bill.png", "image/png", []byte("image"))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

			var body struct {
				Receipt   Receipt          `json:"receipt"`
				Ingestion ingest.StateView `json:"ingestion"`
			}
			decode(resp, &body)
			Expect(body.Receipt.ID).To(Equal("id-1"))
			Expect(body.Ingestion.Phase).To(Equal(ingest.PhaseManualReviewPending))
			Expect(body.Ingestion.Drafts).To(Equal([]ingest.Draft{
				{Name: "Burger", Price: "12.00"},
				{Name: "Fries", Price: "4.00"},
			}))
		})

		It("infers the content type from the extension", func() {
			resp := upload("bill.heic", "", []byte("image"))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var body struct {
				Receipt Receipt `json:"receipt"`
			}
			decode(resp, &body)
			Expect(body.Receipt.ContentType).To(Equal("image/heic"))
		})

		It("rejects a request without a file", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/receipts", "multipart/form-data; boundary=x", strings.NewReader("--x--\r\n"))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		When("no text is found", func() {
			BeforeEach(func() {
				text.err = scanning.ErrNoTextFound
			})

			It("reports the failure with a user message", func() {
				resp := upload("bill.png", "image/png", []byte("image"))
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var body struct {
					Ingestion ingest.StateView `json:"ingestion"`
				}
				decode(resp, &body)
				Expect(body.Ingestion.Phase).To(Equal(ingest.PhaseFailed))
				Expect(body.Ingestion.Reason).To(Equal("no_text_found"))
				Expect(body.Ingestion.Message).To(Equal("No text could be read from the image."))
			})
		})
	})

	Describe("ingestion review", func() {
		It("commits the reviewed drafts", func() {
			id := scan()

			resp := do("POST", "/api/receipts/"+id+"/ingestion/review", map[string]any{
				"drafts": []map[string]string{{"name": "Burger", "price": "12.00"}},
				"tax":    "1.00",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var view ingest.StateView
			decode(resp, &view)
			Expect(view.Phase).To(Equal(ingest.PhaseCommitted))
			Expect(view.ItemCount).To(Equal(1))
			Expect(view.Terminal).To(BeTrue())

			resp = do("GET", "/api/receipts/"+id+"/ingestion", nil)
			decode(resp, &view)
			Expect(view.Phase).To(Equal(ingest.PhaseCommitted))
			Expect(view.ItemCount).To(Equal(1))

			resp = do("GET", "/api/receipts/"+id+"/items", nil)
			var items []LineItem
			decode(resp, &items)
			Expect(items).To(HaveLen(1))
			Expect(items[0].Name).To(Equal("Burger"))
		})

		It("rejects a negative tax", func() {
			id := scan()

			resp := do("POST", "/api/receipts/"+id+"/ingestion/review", map[string]any{"tax": "-2"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			resp = do("GET", "/api/receipts/"+id+"/ingestion", nil)
			var view ingest.StateView
			decode(resp, &view)
			Expect(view.Phase).To(Equal(ingest.PhaseManualReviewPending))
		})

		It("returns conflict when nothing is awaiting review", func() {
			id := scan()
			Expect(do("POST", "/api/receipts/"+id+"/ingestion/review", map[string]any{}).StatusCode).To(Equal(http.StatusOK))

			resp := do("POST", "/api/receipts/"+id+"/ingestion/review", map[string]any{})
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("returns conflict when retrying a pending review", func() {
			id := scan()
			resp := do("POST", "/api/receipts/"+id+"/ingestion/retry", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("returns not found for an unknown receipt", func() {
			resp := do("GET", "/api/receipts/missing/ingestion", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("receipts", func() {
		It("lists, updates and deletes receipts", func() {
			id := scan()

			resp := do("GET", "/api/receipts", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var receipts []Receipt
			decode(resp, &receipts)
			Expect(receipts).To(HaveLen(1))

			resp = do("PATCH", "/api/receipts/"+id, map[string]any{"tax_amount": 2.5, "tip_percentage": 0.2})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var updated Receipt
			decode(resp, &updated)
			Expect(updated.TaxAmount).To(Equal(2.5))
			Expect(updated.TipPercentage).To(Equal(0.2))

			resp = do("PATCH", "/api/receipts/"+id, map[string]any{"tip_percentage": 1.5})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			decode(resp, &updated)
			Expect(updated.TipPercentage).To(Equal(1.5))

			resp = do("PATCH", "/api/receipts/"+id, map[string]any{"tip_percentage": -0.1})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			resp = do("DELETE", "/api/receipts/"+id, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp = do("GET", "/api/receipts/"+id, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("rejects a negative tax amount", func() {
			id := scan()
			resp := do("PATCH", "/api/receipts/"+id, map[string]any{"tax_amount": -1})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			var body map[string]string
			decode(resp, &body)
			Expect(body["error"]).To(Equal("tax_amount must be at least 0"))
		})

		It("serves the stored image", func() {
			id := scan()
			resp := do("GET", "/api/receipts/"+id+"/file", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			data, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("image"))
		})
	})

	Describe("items, people and split", func() {
		It("splits assigned items", func() {
			id := scan()

			resp := do("POST", "/api/people", map[string]any{"name": "Alice"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var alice Person
			decode(resp, &alice)
			Expect(alice.ColorHex).To(Equal(PersonPalette[0]))

			resp = do("POST", "/api/receipts/"+id+"/items", map[string]any{"name": "Pasta", "price": 10})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var pasta LineItem
			decode(resp, &pasta)

			resp = do("POST", "/api/receipts/"+id+"/items", map[string]any{"name": "Salad", "price": 10})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			resp = do("PUT", "/api/receipts/"+id+"/items/"+pasta.ID+"/person", map[string]any{"person_id": alice.ID})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp = do("PATCH", "/api/receipts/"+id, map[string]any{"tax_amount": 2, "tip_percentage": 0.1})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp = do("GET", "/api/receipts/"+id+"/split", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var summary SplitSummary
			decode(resp, &summary)
			Expect(summary.Splits).To(HaveLen(1))
			Expect(summary.Splits[0].Person.Name).To(Equal("Alice"))
			Expect(summary.Splits[0].Total).To(BeNumerically("~", 12, 1e-9))
			Expect(summary.Unassigned).To(HaveLen(1))

			resp = do("GET", "/api/people/"+alice.ID+"/items", nil)
			var aliceItems []LineItem
			decode(resp, &aliceItems)
			Expect(aliceItems).To(HaveLen(1))

			resp = do("DELETE", "/api/people/"+alice.ID, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp = do("GET", "/api/receipts/"+id+"/split", nil)
			decode(resp, &summary)
			Expect(summary.Splits).To(BeEmpty())
			Expect(summary.Unassigned).To(HaveLen(2))
		})

		It("validates item requests", func() {
			id := scan()

			resp := do("POST", "/api/receipts/"+id+"/items", map[string]any{"name": " ", "price": 1})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			resp = do("POST", "/api/receipts/"+id+"/items", map[string]any{"name": "Soup"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			resp = do("POST", "/api/receipts/"+id+"/items", map[string]any{"name": "Soup", "price": -1})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("edits and deletes items", func() {
			id := scan()

			resp := do("POST", "/api/receipts/"+id+"/items", map[string]any{"name": "Soup", "price": 5})
			var soup LineItem
			decode(resp, &soup)

			resp = do("PATCH", "/api/receipts/"+id+"/items/"+soup.ID, map[string]any{"price": 6})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var edited LineItem
			decode(resp, &edited)
			Expect(edited.Name).To(Equal("Soup"))
			Expect(edited.Price).To(Equal(6.0))

			resp = do("DELETE", "/api/receipts/"+id+"/items/"+soup.ID, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp = do("DELETE", "/api/receipts/"+id+"/items/"+soup.ID, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("requires person_id when assigning", func() {
			id := scan()
			resp := do("POST", "/api/receipts/"+id+"/items", map[string]any{"name": "Soup", "price": 5})
			var soup LineItem
			decode(resp, &soup)

			resp = do("PUT", "/api/receipts/"+id+"/items/"+soup.ID+"/person", map[string]any{})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			resp = do("PUT", "/api/receipts/"+id+"/items/"+soup.ID+"/person", map[string]any{"person_id": "ghost"})
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("lists people sorted by name", func() {
			do("POST", "/api/people", map[string]any{"name": "Zoe"})
			do("POST", "/api/people", map[string]any{"name": "Adam"})

			resp := do("GET", "/api/people", nil)
			var people []Person
			decode(resp, &people)
			Expect(people).To(HaveLen(2))
			Expect(people[0].Name).To(Equal("Adam"))
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			resp := do("OPTIONS", "/api/receipts", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PATCH"))
		})
	})

	Describe("metrics", func() {
		It("exposes prometheus metrics", func() {
			scan()
			resp := do("GET", "/metrics", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			data, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring("splyt_ingestion_outcomes_total"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "pass"}
		})

		It("rejects requests without credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("rejects wrong credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/receipts", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("user", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("accepts the configured credentials", func() {
			resp := do("GET", "/api/receipts", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
