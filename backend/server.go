package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"

	"github.com/bringyour/social/social"
)

const identityKey = "identity"
const jwtKey = "jwt"

// The backend as a service. Identity, documents and blobs over http,
// and live queries over a websocket at `/live`.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc

	store    social.DocumentStore
	blobs    BlobEngine
	accounts *Accounts
	rules    *Rules
	metrics  *Metrics
	settings *ServerSettings

	router *gin.Engine
	server *http.Server
}

func NewServer(
	ctx context.Context,
	store social.DocumentStore,
	blobs BlobEngine,
	settings *ServerSettings,
) *Server {
	cancelCtx, cancel := context.WithCancel(ctx)
	server := &Server{
		ctx:      cancelCtx,
		cancel:   cancel,
		store:    store,
		blobs:    blobs,
		accounts: NewAccounts(store, settings),
		rules:    NewRules(store),
		metrics:  NewMetrics(),
		settings: settings,
	}

	router := gin.Default()
	router.Use(server.metrics.Middleware())

	router.POST("/auth/signup", server.authSignup)
	router.POST("/auth/login", server.authLogin)
	router.POST("/auth/logout", server.requireIdentity, server.authLogout)

	router.POST("/documents/get", server.requireIdentity, server.documentsGet)
	router.POST("/documents/list", server.requireIdentity, server.documentsList)
	router.POST("/documents/create", server.requireIdentity, server.documentsCreate)
	router.POST("/documents/commit", server.requireIdentity, server.documentsCommit)

	// blob reads are public so that urls can be shared
	router.GET("/blobs/*path", server.blobGet)
	router.HEAD("/blobs/*path", server.blobHead)
	router.PUT("/blobs/*path", server.requireIdentity, server.blobPut)
	router.DELETE("/blobs/*path", server.requireIdentity, server.blobDelete)

	router.GET("/live", server.live)

	router.GET("/metrics", gin.WrapH(server.metrics.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	server.router = router
	return server
}

func (self *Server) Handler() http.Handler {
	return self.router
}

func (self *Server) Accounts() *Accounts {
	return self.accounts
}

func (self *Server) Metrics() *Metrics {
	return self.metrics
}

// `wrap` is optional and wraps the router, e.g. for tracing
func (self *Server) Start(addr string, wrap func(http.Handler) http.Handler, errorCallback func(err error)) {
	var handler http.Handler = self.router
	if wrap != nil {
		handler = wrap(handler)
	}
	// wrap gin router in an http server
	self.server = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := self.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errorCallback(err)
			return
		}
	}()
}

// live connections are hijacked and are not closed by the http shutdown
func (self *Server) Shutdown() error {
	self.cancel()
	if self.server == nil {
		return nil
	}
	// try to shutdown the server gracefully (wait max 5 secs to finish pending requests)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := self.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	self.server = nil
	return nil
}

func writeError(c *gin.Context, err error) {
	socialErr := social.AsError(err)
	if socialErr.Kind == social.ErrorKindNetwork {
		glog.Infof("[server]%s %s error = %s\n", c.Request.Method, c.Request.URL.Path, err)
	} else {
		glog.V(1).Infof("[server]%s %s error = %s\n", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(social.StatusForErrorKind(socialErr.Kind), social.ErrorToMap(socialErr))
}

func bindArgs(c *gin.Context, args any) bool {
	// clients send `text/json`. Bind json regardless of the content type.
	if err := c.ShouldBindJSON(args); err != nil {
		writeError(c, social.WrapError(social.ErrorKindValidation, err, "Bad request"))
		return false
	}
	return true
}

func bearerJwt(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if jwt, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(jwt)
	}
	return ""
}

func (self *Server) requireIdentity(c *gin.Context) {
	jwt := bearerJwt(c)
	identity, err := self.accounts.Verify(c.Request.Context(), jwt)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set(identityKey, identity)
	c.Set(jwtKey, jwt)
	c.Next()
}

func identityOf(c *gin.Context) *social.Identity {
	if identity, ok := c.Get(identityKey); ok {
		return identity.(*social.Identity)
	}
	return nil
}

func (self *Server) authSignup(c *gin.Context) {
	var args social.AuthSignupArgs
	if !bindArgs(c, &args) {
		return
	}
	result, err := self.accounts.SignUp(c.Request.Context(), &args)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (self *Server) authLogin(c *gin.Context) {
	var args social.AuthLoginArgs
	if !bindArgs(c, &args) {
		return
	}
	result, err := self.accounts.Login(c.Request.Context(), &args)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (self *Server) authLogout(c *gin.Context) {
	if err := self.accounts.Logout(c.Request.Context(), c.GetString(jwtKey)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, &social.AuthLogoutResult{})
}

func (self *Server) documentsGet(c *gin.Context) {
	var args social.DocumentsGetArgs
	if !bindArgs(c, &args) {
		return
	}
	doc := social.Path(args.Path)
	if err := self.rules.CheckGet(identityOf(c), doc); err != nil {
		writeError(c, err)
		return
	}
	d, err := self.store.Get(c.Request.Context(), doc)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, &social.DocumentResult{
		Document: social.DocumentToMap(d),
	})
}

func (self *Server) documentsList(c *gin.Context) {
	var args social.DocumentsListArgs
	if !bindArgs(c, &args) {
		return
	}
	query, err := social.QueryFromMap(args.Query)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := self.rules.CheckQuery(identityOf(c), query); err != nil {
		writeError(c, err)
		return
	}
	docs, err := self.store.List(c.Request.Context(), query)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, &social.DocumentsResult{
		Documents: social.DocumentsToList(docs),
	})
}

func (self *Server) documentsCreate(c *gin.Context) {
	var args social.DocumentsCreateArgs
	if !bindArgs(c, &args) {
		return
	}
	collection := social.Path(args.Collection)
	if !collection.IsCollection() {
		writeError(c, social.NewValidationError("Create requires a collection path: %s", collection))
		return
	}
	ids, err := self.commit(c, []*social.Write{
		social.CreateWrite(collection, social.DecodeFields(args.Fields)),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, &social.DocumentsCreateResult{
		Id: string(ids[0]),
	})
}

func (self *Server) documentsCommit(c *gin.Context) {
	var args social.DocumentsCommitArgs
	if !bindArgs(c, &args) {
		return
	}
	writes, err := social.WritesFromList(args.Writes)
	if err != nil {
		writeError(c, err)
		return
	}
	ids, err := self.commit(c, writes)
	if err != nil {
		writeError(c, err)
		return
	}
	idStrs := make([]string, len(ids))
	for i, id := range ids {
		idStrs[i] = string(id)
	}
	c.JSON(http.StatusOK, &social.DocumentsCommitResult{
		Ids: idStrs,
	})
}

func (self *Server) commit(c *gin.Context, writes []*social.Write) ([]social.Id, error) {
	ctx := c.Request.Context()
	ids, err := func() ([]social.Id, error) {
		if err := self.rules.CheckWrites(ctx, identityOf(c), writes); err != nil {
			return nil, err
		}
		return self.store.Commit(ctx, writes)
	}()
	if err != nil {
		self.metrics.Commit(string(social.KindOf(err)))
		return nil, err
	}
	self.metrics.Commit("ok")
	return ids, nil
}

func blobPath(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("path"), "/")
}

func (self *Server) blobGet(c *gin.Context) {
	blob, err := self.blobs.Get(c.Request.Context(), blobPath(c))
	if err != nil {
		writeError(c, err)
		return
	}
	contentType := blob.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, blob.Data)
}

func (self *Server) blobHead(c *gin.Context) {
	path := blobPath(c)
	if err := social.ValidateBlobPath(path); err != nil {
		c.AbortWithStatus(social.StatusForErrorKind(social.KindOf(err)))
		return
	}
	if err := self.blobs.Head(c.Request.Context(), path); err != nil {
		// head responses have no body
		c.AbortWithStatus(social.StatusForErrorKind(social.KindOf(err)))
		return
	}
	c.Status(http.StatusOK)
}

func (self *Server) blobPut(c *gin.Context) {
	path := blobPath(c)
	if err := self.rules.CheckBlobWrite(identityOf(c), path); err != nil {
		writeError(c, err)
		return
	}
	body := http.MaxBytesReader(c.Writer, c.Request.Body, self.settings.MaxBlobSize)
	data, err := io.ReadAll(body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(c, social.NewValidationError("Blob exceeds %d bytes", self.settings.MaxBlobSize))
		} else {
			writeError(c, social.NewNetworkError(err))
		}
		return
	}
	err = self.blobs.Put(c.Request.Context(), path, &social.Blob{
		Data:        data,
		ContentType: c.GetHeader("Content-Type"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	glog.V(1).Infof("[server]put blob %s (%d)\n", path, len(data))
	c.JSON(http.StatusOK, gin.H{"path": path})
}

func (self *Server) blobDelete(c *gin.Context) {
	path := blobPath(c)
	if err := self.rules.CheckBlobWrite(identityOf(c), path); err != nil {
		writeError(c, err)
		return
	}
	if err := self.blobs.Delete(c.Request.Context(), path); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}
