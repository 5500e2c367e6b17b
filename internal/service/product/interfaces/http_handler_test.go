package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	shared "fulfillment/domain"
	"fulfillment/internal/pkg/database"
	"fulfillment/internal/pkg/lock"
	"fulfillment/internal/pkg/redis"
	"fulfillment/internal/service/product/application"
	"fulfillment/internal/service/product/infrastructure"
)

func newServer(t *testing.T) (*httptest.Server, *application.ProductService) {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "product.db"))
	require.NoError(t, err)
	require.NoError(t, infrastructure.AutoMigrate(db))
	repo := infrastructure.NewGormProductRepository(db)

	mr := miniredis.RunT(t)
	client := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	locker, err := lock.NewRedisLocker(client, 2*time.Millisecond)
	require.NoError(t, err)

	svc := application.NewProductService(repo, infrastructure.NewRedisProductCache(client), infrastructure.NewRedisRanking(client),
		lock.NewManager(locker, lock.NewKeyGenerator("test")), database.NewTransactor(db), otel.Tracer("test"), application.Config{})
	mux := http.NewServeMux()
	NewProductHandler(svc).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, svc
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestProductHandler_StockLifecycle(t *testing.T) {
	srv, _ := newServer(t)

	resp := post(t, srv.URL+"/products", `{"name":"cup","price":300,"stock":1}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created productResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	base := srv.URL + "/products/" + itoa(created.ID)
	assert.Equal(t, http.StatusOK, post(t, base+"/stock/decrease", `{"quantity":1}`).StatusCode)
	assert.Equal(t, http.StatusConflict, post(t, base+"/stock/decrease", `{"quantity":1}`).StatusCode)
	assert.Equal(t, http.StatusUnprocessableEntity, post(t, base+"/stock/increase", `{"quantity":0}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post(t, base+"/stock/increase", `not json`).StatusCode)

	get, err := http.Get(base)
	require.NoError(t, err)
	defer get.Body.Close()
	var got productResponse
	require.NoError(t, json.NewDecoder(get.Body).Decode(&got))
	assert.Zero(t, got.Stock)
	assert.EqualValues(t, 1, got.Version)

	missing, err := http.Get(srv.URL + "/products/999")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestSalesHandler_FeedsRanking(t *testing.T) {
	srv, svc := newServer(t)
	handle := NewSalesHandler(svc)

	raw, err := json.Marshal(shared.OrderCompleted{OrderID: 1, Items: []shared.OrderCompletedItem{{ProductID: 7, Quantity: 3}}})
	require.NoError(t, err)
	require.NoError(t, handle(context.Background(), kafka.Message{Value: raw}))
	assert.Error(t, handle(context.Background(), kafka.Message{Value: []byte("{")}))

	resp, err := http.Get(srv.URL + "/products/ranking?n=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var top []map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&top))
	assert.Equal(t, []map[string]int64{{"productId": 7, "sold": 3}}, top)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
