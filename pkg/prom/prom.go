package prom

import (
	"sync"

	xhttp "github.com/nimasrn/esim-gateway/pkg/http"
	"github.com/nimasrn/esim-gateway/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemFulfillment = "fulfillment"
	SystemProvider    = "provider"
	SystemCatalog     = "catalog"
	SystemPayment     = "payment"
	SystemQueue       = "queue"
	SystemScheduler   = "scheduler"
)

const (
	MetricOrdersTotal           = "orders_total"
	MetricUnitsTotal            = "units_total"
	MetricFulfillmentDuration   = "duration_seconds"
	MetricProviderRequests      = "requests_total"
	MetricProviderDuration      = "request_duration_seconds"
	MetricTokenRefreshTotal     = "token_refresh_total"
	MetricCatalogUpsertsTotal   = "upserts_total"
	MetricPaymentWebhooksTotal  = "webhooks_total"
	MetricQueuePendingMessages  = "pending_messages"
	MetricWorkerBufferedJobs    = "worker_buffered_jobs"
	MetricNotificationsDelivery = "notifications_total"
	MetricJobRunsTotal          = "job_runs_total"
)

var lockCreateMetricLock = &sync.Mutex{}
var namespace = "none"

var MetricSystemEnabled = false

var MetricCollectionCounterVec = make(map[string]*prometheus.CounterVec)
var MetricCollectionGaugeVec = make(map[string]*prometheus.GaugeVec)
var MetricCollectionHistogramVec = make(map[string]*prometheus.HistogramVec)

var defaultLabels prometheus.Labels

// Create registers every metric the binaries emit. Until it is called all helpers are no-ops.
func Create(host string, env string, nameSpace string) error {
	defaultLabels = make(prometheus.Labels)
	defaultLabels["env"] = env
	defaultLabels["instance"] = host
	namespace = nameSpace
	MetricSystemEnabled = true

	var err error
	hasError := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	hasError(createCounterVec(SystemFulfillment, MetricOrdersTotal, []string{"kind", "status"}))
	hasError(createCounterVec(SystemFulfillment, MetricUnitsTotal, []string{"result"}))
	hasError(createHistogramVec(SystemFulfillment, MetricFulfillmentDuration, []string{"kind"}))
	hasError(createCounterVec(SystemProvider, MetricProviderRequests, []string{"endpoint", "result"}))
	hasError(createHistogramVec(SystemProvider, MetricProviderDuration, []string{"endpoint"}))
	hasError(createCounterVec(SystemProvider, MetricTokenRefreshTotal, []string{"reason"}))
	hasError(createCounterVec(SystemCatalog, MetricCatalogUpsertsTotal, []string{"kind"}))
	hasError(createCounterVec(SystemPayment, MetricPaymentWebhooksTotal, []string{"event", "result"}))
	hasError(createGaugeVec(SystemQueue, MetricQueuePendingMessages, []string{"queue"}))
	hasError(createGaugeVec(SystemQueue, MetricWorkerBufferedJobs, []string{"queue"}))
	hasError(createCounterVec(SystemQueue, MetricNotificationsDelivery, []string{"kind", "result"}))
	hasError(createCounterVec(SystemScheduler, MetricJobRunsTotal, []string{"job", "result"}))

	return err
}

func ListenAndServer(port string, url string) {
	hh := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	s := xhttp.CreateServer()
	s.GET(url, hh)
	logger.Info("[metrics-server] listening...", "url", url, "port", port)
	if err := s.ListenAndServe(port); err != nil {
		logger.Error("[metrics-server] http listen error", "error", err)
	}
}

func createCounterVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionCounterVec[subsystem+name] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionCounterVec[subsystem+name])
}

func createHistogramVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionHistogramVec[subsystem+name] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionHistogramVec[subsystem+name])
}

func createGaugeVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()

	MetricCollectionGaugeVec[subsystem+name] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionGaugeVec[subsystem+name])
}

func SetGaugeVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionGaugeVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Set(num)
		return
	}
	logger.Warn("[metrics-server] gauge not found", "subsystem", subsystem, "name", name)
}

func AddCounterVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionCounterVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Add(num)
		return
	}
	logger.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func IncCounterVec(subsystem, name string, labelValues ...string) {
	AddCounterVec(subsystem, name, 1, labelValues...)
}

func AddHistogramVec(subsystem, name string, number float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionHistogramVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram vec not found", "subsystem", subsystem, "name", name)
}

func IncOrder(kind, status string) {
	IncCounterVec(SystemFulfillment, MetricOrdersTotal, kind, status)
}

func AddUnits(result string, n int) {
	AddCounterVec(SystemFulfillment, MetricUnitsTotal, float64(n), result)
}

func ObserveFulfillment(kind string, seconds float64) {
	AddHistogramVec(SystemFulfillment, MetricFulfillmentDuration, seconds, kind)
}

func ObserveProviderRequest(endpoint, result string, seconds float64) {
	IncCounterVec(SystemProvider, MetricProviderRequests, endpoint, result)
	AddHistogramVec(SystemProvider, MetricProviderDuration, seconds, endpoint)
}

func IncTokenRefresh(reason string) {
	IncCounterVec(SystemProvider, MetricTokenRefreshTotal, reason)
}

func AddCatalogUpserts(kind string, n int64) {
	AddCounterVec(SystemCatalog, MetricCatalogUpsertsTotal, float64(n), kind)
}

func IncWebhook(event, result string) {
	IncCounterVec(SystemPayment, MetricPaymentWebhooksTotal, event, result)
}

func SetQueuePending(queue string, n int64) {
	SetGaugeVec(SystemQueue, MetricQueuePendingMessages, float64(n), queue)
}

func SetWorkerBuffered(queue string, n int64) {
	SetGaugeVec(SystemQueue, MetricWorkerBufferedJobs, float64(n), queue)
}

func IncNotification(kind, result string) {
	IncCounterVec(SystemQueue, MetricNotificationsDelivery, kind, result)
}

func IncJobRun(job, result string) {
	IncCounterVec(SystemScheduler, MetricJobRunsTotal, job, result)
}
