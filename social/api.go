package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R], 1)
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// http client for the social backend
type Api struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string
	client *http.Client

	stateLock sync.Mutex
	jwt       string
}

func NewApi(apiUrl string) *Api {
	return NewApiWithContext(context.Background(), apiUrl)
}

func NewApiWithContext(ctx context.Context, apiUrl string) *Api {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Api{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: strings.TrimSuffix(apiUrl, "/"),
		client: defaultClient(),
	}
}

func (self *Api) ApiUrl() string {
	return self.apiUrl
}

// the websocket url of the live query endpoint
func (self *Api) LiveUrl() string {
	u := self.apiUrl
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return fmt.Sprintf("%s/live", u)
}

// this gets attached to api calls that need it
func (self *Api) SetJwt(jwt string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.jwt = jwt
}

func (self *Api) Jwt() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.jwt
}

func (self *Api) Close() {
	self.cancel()
}

type AuthSignupArgs struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResult struct {
	Jwt      string    `json:"jwt"`
	Identity *Identity `json:"identity"`
}

type AuthCallback apiCallback[*AuthResult]

func (self *Api) AuthSignup(authSignup *AuthSignupArgs, callback AuthCallback) {
	go post(
		self.ctx,
		self.client,
		fmt.Sprintf("%s/auth/signup", self.apiUrl),
		authSignup,
		"",
		&AuthResult{},
		callback,
	)
}

func (self *Api) AuthSignupSync(ctx context.Context, authSignup *AuthSignupArgs) (*AuthResult, error) {
	return post(
		ctx,
		self.client,
		fmt.Sprintf("%s/auth/signup", self.apiUrl),
		authSignup,
		"",
		&AuthResult{},
		NewNoopApiCallback[*AuthResult](),
	)
}

func (self *Api) AuthLogin(authLogin *AuthLoginArgs, callback AuthCallback) {
	go post(
		self.ctx,
		self.client,
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		"",
		&AuthResult{},
		callback,
	)
}

func (self *Api) AuthLoginSync(ctx context.Context, authLogin *AuthLoginArgs) (*AuthResult, error) {
	return post(
		ctx,
		self.client,
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		"",
		&AuthResult{},
		NewNoopApiCallback[*AuthResult](),
	)
}

type AuthLogoutResult struct {
}

func (self *Api) AuthLogoutSync(ctx context.Context) (*AuthLogoutResult, error) {
	return post(
		ctx,
		self.client,
		fmt.Sprintf("%s/auth/logout", self.apiUrl),
		nil,
		self.Jwt(),
		&AuthLogoutResult{},
		NewNoopApiCallback[*AuthLogoutResult](),
	)
}

type DocumentsGetArgs struct {
	Path string `json:"path"`
}

type DocumentResult struct {
	Document map[string]any `json:"document"`
}

func (self *Api) DocumentsGetSync(ctx context.Context, documentsGet *DocumentsGetArgs) (*DocumentResult, error) {
	return post(
		ctx,
		self.client,
		fmt.Sprintf("%s/documents/get", self.apiUrl),
		documentsGet,
		self.Jwt(),
		&DocumentResult{},
		NewNoopApiCallback[*DocumentResult](),
	)
}

type DocumentsListArgs struct {
	Query map[string]any `json:"query"`
}

type DocumentsResult struct {
	Documents []any `json:"documents"`
}

type DocumentsListCallback apiCallback[*DocumentsResult]

func (self *Api) DocumentsList(documentsList *DocumentsListArgs, callback DocumentsListCallback) {
	go post(
		self.ctx,
		self.client,
		fmt.Sprintf("%s/documents/list", self.apiUrl),
		documentsList,
		self.Jwt(),
		&DocumentsResult{},
		callback,
	)
}

func (self *Api) DocumentsListSync(ctx context.Context, documentsList *DocumentsListArgs) (*DocumentsResult, error) {
	return post(
		ctx,
		self.client,
		fmt.Sprintf("%s/documents/list", self.apiUrl),
		documentsList,
		self.Jwt(),
		&DocumentsResult{},
		NewNoopApiCallback[*DocumentsResult](),
	)
}

type DocumentsCreateArgs struct {
	Collection string         `json:"collection"`
	Fields     map[string]any `json:"fields"`
}

type DocumentsCreateResult struct {
	Id string `json:"id"`
}

func (self *Api) DocumentsCreateSync(ctx context.Context, documentsCreate *DocumentsCreateArgs) (*DocumentsCreateResult, error) {
	return post(
		ctx,
		self.client,
		fmt.Sprintf("%s/documents/create", self.apiUrl),
		documentsCreate,
		self.Jwt(),
		&DocumentsCreateResult{},
		NewNoopApiCallback[*DocumentsCreateResult](),
	)
}

type DocumentsCommitArgs struct {
	Writes []any `json:"writes"`
}

type DocumentsCommitResult struct {
	Ids []string `json:"ids"`
}

type DocumentsCommitCallback apiCallback[*DocumentsCommitResult]

func (self *Api) DocumentsCommit(documentsCommit *DocumentsCommitArgs, callback DocumentsCommitCallback) {
	go post(
		self.ctx,
		self.client,
		fmt.Sprintf("%s/documents/commit", self.apiUrl),
		documentsCommit,
		self.Jwt(),
		&DocumentsCommitResult{},
		callback,
	)
}

func (self *Api) DocumentsCommitSync(ctx context.Context, documentsCommit *DocumentsCommitArgs) (*DocumentsCommitResult, error) {
	return post(
		ctx,
		self.client,
		fmt.Sprintf("%s/documents/commit", self.apiUrl),
		documentsCommit,
		self.Jwt(),
		&DocumentsCommitResult{},
		NewNoopApiCallback[*DocumentsCommitResult](),
	)
}

func (self *Api) BlobUrl(path string) string {
	return fmt.Sprintf("%s/blobs/%s", self.apiUrl, path)
}

func (self *Api) BlobPutSync(ctx context.Context, path string, blob *Blob) error {
	_, err := send(ctx, self.client, "PUT", self.BlobUrl(path), bytes.NewReader(blob.Data), blob.ContentType, self.Jwt())
	return err
}

// returns a `NotFoundError` if the blob does not exist
func (self *Api) BlobHeadSync(ctx context.Context, path string) error {
	_, err := send(ctx, self.client, "HEAD", self.BlobUrl(path), nil, "", self.Jwt())
	return err
}

func (self *Api) BlobGetSync(ctx context.Context, blobUrl string) (*Blob, error) {
	r, err := send(ctx, self.client, "GET", blobUrl, nil, "", self.Jwt())
	if err != nil {
		return nil, err
	}
	return &Blob{
		Data:        r.body,
		ContentType: r.contentType,
	}, nil
}

func (self *Api) BlobDeleteSync(ctx context.Context, path string) error {
	_, err := send(ctx, self.client, "DELETE", self.BlobUrl(path), nil, "", self.Jwt())
	return err
}

type apiResponse struct {
	body        []byte
	contentType string
}

// maps a non-200 response onto the error taxonomy.
// The backend writes `{"kind", "message"}` error bodies.
func responseError(statusCode int, body []byte) error {
	errorBody := map[string]any{}
	if err := json.Unmarshal(body, &errorBody); err == nil {
		if _, ok := errorBody["kind"]; ok {
			return ErrorFromMap(errorBody)
		}
	}
	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return NewError(ErrorKindForStatus(statusCode), "%s", message)
}

func send(
	ctx context.Context,
	client *http.Client,
	method string,
	requestUrl string,
	body io.Reader,
	contentType string,
	jwt string,
) (*apiResponse, error) {
	if _, err := url.Parse(requestUrl); err != nil {
		return nil, NewValidationError("Bad url: %s", requestUrl)
	}
	req, err := http.NewRequestWithContext(ctx, method, requestUrl, body)
	if err != nil {
		return nil, NewNetworkError(err)
	}
	if contentType != "" {
		req.Header.Add("Content-Type", contentType)
	}
	if jwt != "" {
		auth := fmt.Sprintf("Bearer %s", jwt)
		req.Header.Add("Authorization", auth)
	}

	r, err := client.Do(req)
	if err != nil {
		return nil, NewNetworkError(err)
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, NewNetworkError(err)
	}
	if http.StatusOK != r.StatusCode {
		return nil, responseError(r.StatusCode, responseBodyBytes)
	}
	return &apiResponse{
		body:        responseBodyBytes,
		contentType: r.Header.Get("Content-Type"),
	}, nil
}

func post[R any](
	ctx context.Context,
	client *http.Client,
	url string,
	args any,
	jwt string,
	result R,
	callback apiCallback[R],
) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			err = WrapError(ErrorKindValidation, err, "Bad request")
			callback.Result(empty, err)
			return empty, err
		}
	}

	r, err := send(ctx, client, "POST", url, bytes.NewReader(requestBodyBytes), "text/json", jwt)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	err = json.Unmarshal(r.body, &result)
	if err != nil {
		var empty R
		err = NewNetworkError(err)
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
