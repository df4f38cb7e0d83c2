/*
Package application holds the application-script handlers invoked as the
optional last step of a CTID's reconciliation: vllm_server (writes a
supervised systemd unit for the inference server, then probes readiness and
validates a sample request) and portainer_deploy (a no-op deferring to the
docker feature's own dashboard deployment).
*/
package application
