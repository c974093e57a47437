package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/crosstalk-ai/crosstalk/pkg/types"
)

func postJSON(path string, body any) (*http.Response, []byte) {
	data, err := json.Marshal(body)
	Expect(err).NotTo(HaveOccurred())

	resp, err := http.Post(baseURL+path, "application/json", bytes.NewReader(data))
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp, buf.Bytes()
}

func getJSON(path string) (*http.Response, []byte) {
	resp, err := http.Get(baseURL + path)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp, buf.Bytes()
}

func createWebSession() *types.ChatSession {
	resp, body := postJSON("/session", map[string]any{
		"surface": "web",
		"model":   "claude-web",
		"url":     "https://example.com/chat",
	})
	Expect(resp.StatusCode).To(Equal(http.StatusCreated))

	session := &types.ChatSession{}
	Expect(json.Unmarshal(body, session)).To(Succeed())
	Expect(session.ID).NotTo(BeEmpty())
	return session
}

var _ = Describe("Session Endpoints", func() {
	Describe("POST /session", func() {
		It("creates a web session", func() {
			session := createWebSession()
			Expect(session.Surface).To(Equal(types.SurfaceWeb))
			Expect(session.State).To(Equal(types.StateActive))
		})

		It("rejects an unknown surface", func() {
			resp, _ := postJSON("/session", map[string]any{"surface": "telepathy"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects a subprocess session outside any project", func() {
			resp, body := postJSON("/session", map[string]any{
				"surface": "terminal-subprocess",
				"model":   "demo",
				"workDir": "/definitely/not/registered",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			var errResp struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			Expect(json.Unmarshal(body, &errResp)).To(Succeed())
			Expect(errResp.Error.Code).To(Equal("OUTSIDE_PROJECT"))
		})
	})

	Describe("GET /session", func() {
		It("lists sessions as a JSON array", func() {
			createWebSession()

			resp, body := getJSON("/session")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var sessions []json.RawMessage
			Expect(json.Unmarshal(body, &sessions)).To(Succeed())
			Expect(len(sessions)).To(BeNumerically(">", 0))
		})
	})

	Describe("GET /session/{id}", func() {
		It("returns the session record", func() {
			session := createWebSession()

			resp, body := getJSON("/session/" + session.ID)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			got := &types.ChatSession{}
			Expect(json.Unmarshal(body, got)).To(Succeed())
			Expect(got.ID).To(Equal(session.ID))
		})

		It("returns structured 404 for unknown ids", func() {
			resp, body := getJSON("/session/nonexistent-id")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

			var errResp struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			Expect(json.Unmarshal(body, &errResp)).To(Succeed())
			Expect(errResp.Error.Code).To(Equal("NOT_FOUND"))
		})
	})

	Describe("POST /session/{id}/message", func() {
		It("records a message on a web session", func() {
			session := createWebSession()

			resp, _ := postJSON(fmt.Sprintf("/session/%s/message", session.ID), map[string]any{
				"text": "hello there",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			_, body := getJSON("/session/" + session.ID)
			got := &types.ChatSession{}
			Expect(json.Unmarshal(body, got)).To(Succeed())
			Expect(got.Messages).To(HaveLen(1))
			Expect(got.Metadata.Turns().CurrentTurn).To(Equal(1))
		})

		It("rejects an empty message", func() {
			session := createWebSession()

			resp, _ := postJSON(fmt.Sprintf("/session/%s/message", session.ID), map[string]any{})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /session/{id}/terminate", func() {
		It("marks the session terminated", func() {
			session := createWebSession()

			resp, _ := postJSON(fmt.Sprintf("/session/%s/terminate", session.ID), map[string]any{})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			_, body := getJSON("/session/" + session.ID)
			got := &types.ChatSession{}
			Expect(json.Unmarshal(body, got)).To(Succeed())
			Expect(got.State).To(Equal(types.StateTerminated))
		})
	})

	Describe("POST /session/{id}/snapshot", func() {
		It("parses a terminal buffer into messages", func() {
			session := createWebSession()

			resp, body := postJSON(fmt.Sprintf("/session/%s/snapshot", session.ID), map[string]any{
				"buffer": "> hi\n⏺ hello",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var messages []types.ChatMessage
			Expect(json.Unmarshal(body, &messages)).To(Succeed())
			Expect(messages).To(HaveLen(2))
			Expect(messages[0].Role).To(Equal(types.RoleUser))
			Expect(messages[1].Role).To(Equal(types.RoleAssistant))
		})
	})

	Describe("DELETE /session/{id}", func() {
		It("removes the session", func() {
			session := createWebSession()

			req, err := http.NewRequest(http.MethodDelete, baseURL+"/session/"+session.ID, nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			getResp, _ := getJSON("/session/" + session.ID)
			Expect(getResp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /health", func() {
		It("reports ok", func() {
			resp, body := getJSON("/health")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(body)).To(ContainSubstring("ok"))
		})
	})
})
