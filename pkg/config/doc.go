/*
Package config loads the faultbridge YAML configuration.

The file describes the process (listen address, data directory, logging),
the tuning of each component, and the list of controller clusters:

	listen_addr: 127.0.0.1:9480
	data_dir: /var/lib/faultbridge
	directory_file: /etc/faultbridge/devices.yaml
	subscription:
	  workers: 25
	  refresh_interval: 30s
	supervisor:
	  restart_ceiling: 6h
	clusters:
	  - name: fabric-east
	    type: CISCO-ACI
	    location: dc1
	    poll_interval_minutes: 0
	    endpoints:
	      - host: apic1.example.net
	        user: admin
	        password: secret

Durations use Go duration syntax. Every omitted value takes its default.
Validation fails on duplicate cluster names, clusters without endpoints and
refresh intervals that would not land inside the controller's 60 second
expiry window.
*/
package config
