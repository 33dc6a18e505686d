package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gitlab.com/dirk.krummacker/message-relay/pkg/model"
)

var baseURL string

// Usage example on the command line (against a relay in dev mode, so that no
// SMS leaves the building):
// > go run main.go -url=http://localhost:8080
func main() {
	flag.StringVar(&baseURL, "url", "http://localhost:8080", "the base URL of the relay")
	flag.Parse()

	fmt.Println()
	fmt.Println("  Elements      POST       PUT       GET       SMS    DELETE ")
	fmt.Println("-------------------------------------------------------------")
	sizes := []int{100, 500, 1000, 5000}
	run := 0
	for _, loops := range sizes {
		run++
		fmt.Printf("%10d", loops)
		ids := make([]int64, 0, loops)
		phones := make(map[int64]string, loops)
		{
			// POST requests
			var duration int64
			for i := 0; i < loops; i++ {
				phone := fmt.Sprintf("+420 %d%08d", run, i)
				contact, d := sendPostRequest(fmt.Sprintf("client-%d-%d", run, i), phone)
				ids = append(ids, contact.Id)
				phones[contact.Id] = phone
				duration += d
			}
			fmt.Printf("%10d", duration/int64(loops*1000))
		}
		{
			// PUT requests
			body := []byte(`{"subscribed": true}`)
			f := func(id int64) int64 {
				return sendContactRequest(id, http.MethodPut, bytes.NewReader(body))
			}
			callInLoop(ids, f)
		}
		{
			// GET requests
			f := func(id int64) int64 {
				return sendContactRequest(id, http.MethodGet, nil)
			}
			callInLoop(ids, f)
		}
		{
			// Incoming SMS from every contact
			f := func(id int64) int64 {
				return sendSMSWebhook(phones[id], "Benchmark message")
			}
			callInLoop(ids, f)
		}
		{
			// DELETE requests
			f := func(id int64) int64 {
				return sendContactRequest(id, http.MethodDelete, nil)
			}
			callInLoop(ids, f)
		}
		fmt.Println()
	}
	printLogSize()
}

func callInLoop(ids []int64, f func(id int64) int64) {
	shuffled := append([]int64(nil), ids...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	var duration int64
	for _, id := range shuffled {
		duration += f(id)
	}
	fmt.Printf("%10d", duration/int64(len(ids)*1000))
}

func sendPostRequest(name, phone string) (model.Contact, int64) {
	body, err := json.Marshal(model.ContactChanges{Name: &name, Phone: &phone})
	if err != nil {
		panic(err)
	}
	resBody, duration := sendRequest(http.MethodPost, baseURL+"/contacts", "application/json", bytes.NewReader(body))
	var contact model.Contact
	if err := json.Unmarshal(resBody, &contact); err != nil {
		fmt.Println("could not unmarshal JSON", err, string(resBody))
		panic(err)
	}
	return contact, duration
}

func sendContactRequest(id int64, method string, bodyReader io.Reader) int64 {
	requestURL := fmt.Sprintf("%s/contacts/%d", baseURL, id)
	_, duration := sendRequest(method, requestURL, "application/json", bodyReader)
	return duration
}

func sendSMSWebhook(from, body string) int64 {
	form := url.Values{"From": {from}, "To": {"+10000000000"}, "Body": {body}}
	_, duration := sendRequest(http.MethodPost, baseURL+"/sms",
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	return duration
}

func printLogSize() {
	resBody, _ := sendRequest(http.MethodGet, baseURL+"/log", "", nil)
	var entries []model.LogEntry
	if err := json.Unmarshal(resBody, &entries); err != nil {
		fmt.Println("could not unmarshal log", err)
		return
	}
	fmt.Printf("\nThe relay log holds %d entries.\n", len(entries))
}

func sendRequest(method, requestURL, contentType string, bodyReader io.Reader) ([]byte, int64) {
	req, err := http.NewRequest(method, requestURL, bodyReader)
	if err != nil {
		fmt.Println("could not create request", err)
		panic(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	before := time.Now().UnixNano()
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Println("error making http request", err)
		panic(err)
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		fmt.Println("could not read response body", err)
		panic(err)
	}
	after := time.Now().UnixNano()
	return resBody, after - before
}
