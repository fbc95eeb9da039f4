// Package registry acquires the proxy image: ECR authentication plus the
// actual pull through the local Docker daemon.
package registry

import (
	"context"
	"encoding/base64"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/docker/docker/api/types/image"
	dockerregistry "github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ECR implements proxy.ImageProvider for images hosted in Elastic Container
// Registry.
type ECR struct {
	ecr    *ecr.Client
	docker *client.Client
	image  string
	tag    string
}

func NewECR(ecrClient *ecr.Client, docker *client.Client, imageURI, tag string) *ECR {
	return &ECR{ecr: ecrClient, docker: docker, image: imageURI, tag: tag}
}

// Pull authenticates against ECR and pulls the configured image, returning
// the reference that was pulled.
func (p *ECR) Pull(ctx context.Context) (string, error) {
	ref := p.image + ":" + p.tag

	auth, err := p.registryAuth(ctx)
	if err != nil {
		return "", err
	}

	log.Infof("pulling %s", ref)
	rc, err := p.docker.ImagePull(ctx, ref, image.PullOptions{RegistryAuth: auth})
	if err != nil {
		return "", errors.Wrapf(err, "pull %s", ref)
	}
	defer rc.Close()

	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return "", errors.Wrapf(err, "pull %s", ref)
	}
	return ref, nil
}

// registryAuth exchanges an ECR authorization token for the base64 auth
// string the Docker API expects.
func (p *ECR) registryAuth(ctx context.Context) (string, error) {
	out, err := p.ecr.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return "", errors.Wrap(err, "get ECR authorization token")
	}
	if len(out.AuthorizationData) == 0 || out.AuthorizationData[0].AuthorizationToken == nil {
		return "", errors.New("ECR returned no authorization data")
	}

	raw, err := base64.StdEncoding.DecodeString(*out.AuthorizationData[0].AuthorizationToken)
	if err != nil {
		return "", errors.Wrap(err, "decode ECR authorization token")
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", errors.New("malformed ECR authorization token")
	}

	host, _, _ := strings.Cut(p.image, "/")
	return dockerregistry.EncodeAuthConfig(dockerregistry.AuthConfig{
		Username:      user,
		Password:      pass,
		ServerAddress: host,
	})
}
