package normalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
)

type polarisMessage struct {
	ID       string `json:"ID"`
	Message  string `json:"Message"`
	Success  *bool  `json:"Success"`
	Severity string `json:"Severity"`
	Category string `json:"Category"`
}

type polarisResults map[string]polarisMessage

// polarisRecord is the audit of one kubernetes controller.
type polarisRecord struct {
	Name      string         `json:"Name"`
	Namespace string         `json:"Namespace"`
	Kind      string         `json:"Kind"`
	Results   polarisResults `json:"Results"`
	PodResult *struct {
		Name             string         `json:"Name"`
		Results          polarisResults `json:"Results"`
		ContainerResults []struct {
			Name    string         `json:"Name"`
			Image   string         `json:"Image"`
			Results polarisResults `json:"Results"`
		} `json:"ContainerResults"`
	} `json:"PodResult"`
}

type podTemplate struct {
	Spec struct {
		Containers []struct {
			Name  string `json:"name"`
			Image string `json:"image"`
		} `json:"containers"`
	} `json:"spec"`
}

type kubeWorkload struct {
	Metadata struct {
		Name      string `json:"name"`
		Namespace string `json:"namespace"`
	} `json:"metadata"`
	Spec struct {
		Template    podTemplate `json:"template"`
		JobTemplate struct {
			Spec struct {
				Template podTemplate `json:"template"`
			} `json:"spec"`
		} `json:"jobTemplate"`
	} `json:"spec"`
}

type kubeClusterMeta struct {
	Deployments  []kubeWorkload `json:"Deployments"`
	StatefulSets []kubeWorkload `json:"StatefulSets"`
	DaemonSets   []kubeWorkload `json:"DaemonSets"`
	Jobs         []kubeWorkload `json:"Jobs"`
	CronJobs     []kubeWorkload `json:"CronJobs"`
}

// images maps "namespace/kind/name/container" to the container image.
func (m kubeClusterMeta) images() map[string]string {
	out := map[string]string{}
	add := func(kind string, workloads []kubeWorkload, cron bool) {
		for _, w := range workloads {
			tpl := w.Spec.Template
			if cron {
				tpl = w.Spec.JobTemplate.Spec.Template
			}
			for _, c := range tpl.Spec.Containers {
				if c.Image != "" {
					out[imageKey(w.Metadata.Namespace, kind, w.Metadata.Name, c.Name)] = c.Image
				}
			}
		}
	}
	add("deployment", m.Deployments, false)
	add("statefulset", m.StatefulSets, false)
	add("daemonset", m.DaemonSets, false)
	add("job", m.Jobs, false)
	add("cronjob", m.CronJobs, true)
	return out
}

func imageKey(namespace, kind, name, container string) string {
	return strings.ToLower(namespace + "/" + kind + "/" + name + "/" + container)
}

type Polaris struct {
	checks CheckResolver
}

func NewPolaris(checks CheckResolver) *Polaris {
	return &Polaris{checks: checks}
}

func (*Polaris) Type() model.ScannerType { return model.ScannerPolaris }

func (*Polaris) ParseRunMetadata(raw []byte) (*RunMetadata, error) { return parsePolarisRun(raw) }

func (*Polaris) DescribeFailure(run *RunMetadata) string { return run.FailureDescription }

// polarisAudit accumulates the results of one polaris run.
type polarisAudit struct {
	p       *Polaris
	ctx     context.Context
	audit   *model.Audit
	skipped int

	imageScanCheck int64
}

func (p *Polaris) Normalize(ctx context.Context, in Input) (*Result, error) {
	data, err := in.file(in.Run.AuditPath)
	if err != nil {
		return nil, err
	}
	raw, err := decodeRecords(data, "Results")
	if err != nil {
		return nil, malformed("polaris audit %s: %v", in.Run.AuditID, err)
	}

	cluster := json.RawMessage(`{}`)
	if in.Run.KubeMetaPath != "" {
		if cluster, err = in.file(in.Run.KubeMetaPath); err != nil {
			return nil, err
		}
	}
	var clusterMeta kubeClusterMeta
	if err := json.Unmarshal(cluster, &clusterMeta); err != nil {
		return nil, malformed("polaris audit %s cluster metadata: %v", in.Run.AuditID, err)
	}
	images := clusterMeta.images()

	clusterID := in.Run.ClusterID
	if clusterID == "" {
		clusterID = in.Scanner.ID
	}

	a := &polarisAudit{
		p:   p,
		ctx: ctx,
		audit: &model.Audit{
			ID:            in.Run.AuditID,
			Date:          in.Run.Date(),
			ScannerID:     in.Scanner.ScannerID(),
			ComponentID:   model.KubeComponent(clusterID, "", "", "").String(),
			ComponentName: clusterID,
		},
	}

	for i, r := range raw {
		var rec polarisRecord
		err := json.Unmarshal(r, &rec)
		if err == nil && (rec.Kind == "" || rec.Name == "") {
			err = fmt.Errorf("controller without Kind or Name")
		}
		if err != nil {
			a.skip(i+1, err)
			continue
		}

		kind, name := strings.ToLower(rec.Kind), strings.ToLower(rec.Name)
		// cluster scoped objects only fit the root level
		object := model.KubeComponent(clusterID, rec.Namespace, kind, name)
		if err := a.add(i+1, object.String(), rec.Results); err != nil {
			return nil, err
		}
		if rec.PodResult == nil {
			continue
		}

		// pod level results describe the controller itself
		if err := a.add(i+1, object.String(), rec.PodResult.Results); err != nil {
			return nil, err
		}
		pod := strings.ToLower(rec.PodResult.Name)
		if pod == "" {
			pod = name + "-pod"
		}
		for j, c := range rec.PodResult.ContainerResults {
			container := c.Name
			if container == "" {
				container = fmt.Sprintf("%s-container%d", pod, j+1)
			}
			image := c.Image
			if image == "" {
				image = images[imageKey(rec.Namespace, kind, name, container)]
			}
			id := object.WithContainer(pod, container, image).String()
			if err := a.add(i+1, id, c.Results); err != nil {
				return nil, err
			}
			if image != "" && rec.Namespace != "" {
				if err := a.addImageScanPlaceholder(id, image); err != nil {
					return nil, err
				}
			}
		}
	}

	meta, err := metadataBlob(in, "cluster", cluster)
	if err != nil {
		return nil, err
	}
	a.audit.MetadataKube = meta
	return &Result{Audit: a.audit, Skipped: a.skipped}, nil
}

func (a *polarisAudit) skip(index int, err error) {
	skipRecord(model.ScannerPolaris, a.audit.ID, index, err)
	a.skipped++
}

func (a *polarisAudit) add(index int, componentID string, results polarisResults) error {
	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		msg := results[k]
		if msg.ID == "" {
			msg.ID = k
		}
		if msg.Success == nil {
			a.skip(index, fmt.Errorf("result %s of %s without Success", msg.ID, componentID))
			continue
		}

		checkID := model.CheckID(model.ScannerPolaris, msg.ID)
		severity, category := polarisSeverity(msg.Severity), msg.Category
		internalID, err := a.p.checks.Resolve(a.ctx, checkID, func() (model.Check, error) {
			return model.Check{ID: checkID, Category: category, Severity: severity}, nil
		})
		if err != nil {
			return err
		}

		value := model.CheckValueFailed
		if *msg.Success {
			value = model.CheckValueSucceeded
		}
		a.audit.CheckResults = append(a.audit.CheckResults, model.CheckResult{
			AuditID:         a.audit.ID,
			InternalCheckID: internalID,
			ExternalCheckID: checkID,
			ComponentID:     componentID,
			Value:           value,
			Message:         msg.Message,
		})
	}
	return nil
}

// addImageScanPlaceholder marks the image of a container as waiting for its scan.
func (a *polarisAudit) addImageScanPlaceholder(componentID, image string) error {
	if a.imageScanCheck == 0 {
		id, err := a.p.checks.Resolve(a.ctx, model.ImageScanCheck.ID, func() (model.Check, error) {
			return model.ImageScanCheck, nil
		})
		if err != nil {
			return err
		}
		a.imageScanCheck = id
	}
	a.audit.CheckResults = append(a.audit.CheckResults, model.CheckResult{
		AuditID:         a.audit.ID,
		InternalCheckID: a.imageScanCheck,
		ExternalCheckID: model.ImageScanCheck.ID,
		ComponentID:     componentID,
		Value:           model.CheckValueInProgress,
		Message:         "image scan of " + image + " is in progress",
	})
	return nil
}

func polarisSeverity(s string) model.Severity {
	switch s {
	case "error":
		return model.SeverityHigh
	case "warning":
		return model.SeverityMedium
	default:
		return model.SeverityUnknown
	}
}
