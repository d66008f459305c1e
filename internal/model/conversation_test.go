package model_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lumen.app/relay/internal/model"
)

var _ = Describe("Content", func() {
	It("accepts a plain string", func() {
		var c model.Content
		Expect(json.Unmarshal([]byte(`"hello"`), &c)).To(Succeed())
		Expect(c.IsParts()).To(BeFalse())
		Expect(c.PlainText()).To(Equal("hello"))
	})

	It("accepts typed parts and joins their text", func() {
		var c model.Content
		Expect(json.Unmarshal([]byte(`[
			{"type":"text","text":"look at"},
			{"type":"image_url","image_url":"https://img/1.png"},
			{"type":"text","text":"this"}
		]`), &c)).To(Succeed())

		Expect(c.IsParts()).To(BeTrue())
		Expect(c.HasImages()).To(BeTrue())
		Expect(c.PlainText()).To(Equal("look at\nthis"))
	})

	It("keeps an empty array distinct from plain text", func() {
		var c model.Content
		Expect(json.Unmarshal([]byte(`[]`), &c)).To(Succeed())
		Expect(c.IsParts()).To(BeTrue())

		out, err := json.Marshal(c)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(out)).To(Equal(`[]`))
	})

	It("rejects other JSON shapes", func() {
		var c model.Content
		Expect(json.Unmarshal([]byte(`{"text":"x"}`), &c)).To(HaveOccurred())
	})

	It("replaces text while keeping attachments", func() {
		c := model.Content{Parts: []model.ContentPart{
			{Type: model.ContentText, Text: "a"},
			{Type: model.ContentImage, ImageURL: "https://img/1.png"},
			{Type: model.ContentText, Text: "b"},
		}}

		out := c.WithText("rewritten")
		Expect(out.Parts).To(Equal([]model.ContentPart{
			{Type: model.ContentText, Text: "rewritten"},
			{Type: model.ContentImage, ImageURL: "https://img/1.png"},
		}))
		Expect(c.Parts).To(HaveLen(3))
	})

	It("adds a text part when there was none", func() {
		c := model.Content{Parts: []model.ContentPart{{Type: model.ContentFile, FileName: "notes.pdf"}}}
		out := c.WithText("summary")
		Expect(out.Parts[0]).To(Equal(model.ContentPart{Type: model.ContentText, Text: "summary"}))
		Expect(out.Parts[1].FileName).To(Equal("notes.pdf"))
	})
})
