// Package directory provisions and tears down AWS Managed Microsoft AD
// directories. Remote failures are returned as Result values, never as errors.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/directoryservice"
	dstypes "github.com/aws/aws-sdk-go-v2/service/directoryservice/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/bturcanu/adgateway/pkg/directory"
	shortNameLen        = 4
	DefaultEdition      = string(dstypes.DirectoryEditionStandard)
)

// ErrNotFound is returned by DescribeDirectory for an unknown directory id.
var ErrNotFound = errors.New("directory not found")

// Config is injected at construction and read-only afterwards.
type Config struct {
	Password string
	Edition  string
	// Timeout bounds each remote call. Zero leaves the SDK transport default.
	Timeout time.Duration
}

// Service runs the two lifecycle operations against Directory Service.
type Service struct {
	cfg     Config
	clients ClientFactory
	log     *slog.Logger

	tracer  trace.Tracer
	ops     metric.Int64Counter
	latency metric.Float64Histogram
}

// NewService wires a Service. A nil logger falls back to slog.Default().
func NewService(clients ClientFactory, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Edition == "" {
		cfg.Edition = DefaultEdition
	}

	meter := otel.Meter(instrumentationName)
	ops, err := meter.Int64Counter("ad.directory.operations",
		metric.WithDescription("Directory lifecycle operations by action and outcome"))
	if err != nil {
		log.Warn("directory metrics disabled", "instrument", "ad.directory.operations", "error", err)
		ops = noop.Int64Counter{}
	}
	latency, err := meter.Float64Histogram("ad.directory.operation.duration",
		metric.WithDescription("Directory Service call latency"),
		metric.WithUnit("ms"))
	if err != nil {
		log.Warn("directory metrics disabled", "instrument", "ad.directory.operation.duration", "error", err)
		latency = noop.Float64Histogram{}
	}

	return &Service{
		cfg:     cfg,
		clients: clients,
		log:     log,
		tracer:  otel.Tracer(instrumentationName),
		ops:     ops,
		latency: latency,
	}
}

// ShortName derives the NetBIOS-style short name: spaces removed, at most
// four characters. Distinct names can collide.
func ShortName(name string) string {
	r := []rune(strings.ReplaceAll(name, " ", ""))
	if len(r) > shortNameLen {
		r = r[:shortNameLen]
	}
	return string(r)
}

// CreateDirectory starts provisioning a Managed Microsoft AD. The returned id
// refers to a directory that is still being created.
func (s *Service) CreateDirectory(ctx context.Context, region, name, vpcID string, subnetIDs []string) Result {
	ctx, span := s.tracer.Start(ctx, "directory.create", trace.WithAttributes(
		attribute.String("aws.region", region),
		attribute.String("ad.vpc_id", vpcID),
	))
	defer span.End()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	out, err := s.clients.ForRegion(region).CreateMicrosoftAD(ctx, &directoryservice.CreateMicrosoftADInput{
		Name:      aws.String(name),
		ShortName: aws.String(ShortName(name)),
		Password:  aws.String(s.cfg.Password),
		VpcSettings: &dstypes.DirectoryVpcSettings{
			VpcId:     aws.String(vpcID),
			SubnetIds: subnetIDs,
		},
		Edition: dstypes.DirectoryEdition(s.cfg.Edition),
	})
	if err == nil && (out == nil || aws.ToString(out.DirectoryId) == "") {
		err = errors.New("create directory: response carried no directory id")
	}

	var res Result
	if err != nil {
		res = Failed(err)
		s.log.ErrorContext(ctx, "directory create failed",
			"region", region,
			"directory_name", name,
			"error", err,
			"error_kind", string(res.Kind),
		)
	} else {
		res = Succeeded(StatusCreated, aws.ToString(out.DirectoryId))
		s.log.InfoContext(ctx, "directory create requested",
			"region", region,
			"directory_id", res.DirectoryID,
			"subnet_ids", subnetIDs,
		)
	}
	s.observe(ctx, span, "create", res, time.Since(start))
	return res
}

// DeleteDirectory starts tearing down directoryID and returns without waiting
// for the teardown to finish.
func (s *Service) DeleteDirectory(ctx context.Context, region, directoryID string) Result {
	ctx, span := s.tracer.Start(ctx, "directory.delete", trace.WithAttributes(
		attribute.String("aws.region", region),
		attribute.String("ad.directory_id", directoryID),
	))
	defer span.End()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	_, err := s.clients.ForRegion(region).DeleteDirectory(ctx, &directoryservice.DeleteDirectoryInput{
		DirectoryId: aws.String(directoryID),
	})

	var res Result
	if err != nil {
		res = Failed(err)
		s.log.ErrorContext(ctx, "directory delete failed",
			"region", region,
			"directory_id", directoryID,
			"error", err,
			"error_kind", string(res.Kind),
		)
	} else {
		res = Succeeded(StatusDeleted, directoryID)
		s.log.InfoContext(ctx, "directory delete requested",
			"region", region,
			"directory_id", directoryID,
		)
	}
	s.observe(ctx, span, "delete", res, time.Since(start))
	return res
}

// Description is the provisioning state of a directory.
type Description struct {
	DirectoryID string     `json:"directory_id"`
	Name        string     `json:"name"`
	ShortName   string     `json:"short_name,omitempty"`
	Stage       string     `json:"stage"`
	StageReason string     `json:"stage_reason,omitempty"`
	Edition     string     `json:"edition,omitempty"`
	Type        string     `json:"type,omitempty"`
	VPCID       string     `json:"vpc_id,omitempty"`
	SubnetIDs   []string   `json:"subnet_ids,omitempty"`
	DNSIPs      []string   `json:"dns_ip_addrs,omitempty"`
	LaunchTime  *time.Time `json:"launch_time,omitempty"`
}

// DescribeDirectory reports the current stage of directoryID. Unlike the
// lifecycle operations it returns errors; ErrNotFound when the service does
// not know the id.
func (s *Service) DescribeDirectory(ctx context.Context, region, directoryID string) (*Description, error) {
	ctx, span := s.tracer.Start(ctx, "directory.describe", trace.WithAttributes(
		attribute.String("aws.region", region),
		attribute.String("ad.directory_id", directoryID),
	))
	defer span.End()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out, err := s.clients.ForRegion(region).DescribeDirectories(ctx, &directoryservice.DescribeDirectoriesInput{
		DirectoryIds: []string{directoryID},
	})
	if err != nil {
		if Classify(err) == KindNotFound {
			err = fmt.Errorf("%w: %s: %w", ErrNotFound, directoryID, err)
		} else {
			err = fmt.Errorf("describe directory %s: %w", directoryID, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "describe failed")
		return nil, err
	}
	if len(out.DirectoryDescriptions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, directoryID)
	}

	d := out.DirectoryDescriptions[0]
	desc := &Description{
		DirectoryID: aws.ToString(d.DirectoryId),
		Name:        aws.ToString(d.Name),
		ShortName:   aws.ToString(d.ShortName),
		Stage:       string(d.Stage),
		StageReason: aws.ToString(d.StageReason),
		Edition:     string(d.Edition),
		Type:        string(d.Type),
		DNSIPs:      d.DnsIpAddrs,
		LaunchTime:  d.LaunchTime,
	}
	if d.VpcSettings != nil {
		desc.VPCID = aws.ToString(d.VpcSettings.VpcId)
		desc.SubnetIDs = d.VpcSettings.SubnetIds
	}
	return desc, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

func (s *Service) observe(ctx context.Context, span trace.Span, action string, res Result, elapsed time.Duration) {
	outcome := "success"
	if !res.OK() {
		outcome = "failure"
		span.SetStatus(codes.Error, string(res.Kind))
		span.SetAttributes(attribute.String("ad.error_kind", string(res.Kind)))
	} else {
		span.SetAttributes(attribute.String("ad.directory_id", res.DirectoryID))
	}
	attrs := metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
		attribute.String("error_kind", string(res.Kind)),
	)
	s.ops.Add(ctx, 1, attrs)
	s.latency.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}
